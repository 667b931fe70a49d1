// Package metrics provides Prometheus metrics for Entitled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeatureDecisions counts feature-gate decisions by outcome.
	FeatureDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entitled",
		Name:      "feature_decisions_total",
		Help:      "Feature gate decisions by outcome (allowed, denied).",
	}, []string{"outcome"})

	// QuotaDenials counts check-and-increment calls rejected because the
	// increment would exceed the quota.
	QuotaDenials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entitled",
		Name:      "quota_denials_total",
		Help:      "Quota check-and-increment calls that were denied.",
	})

	// LicenseReloads counts license reload attempts by result.
	LicenseReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entitled",
		Name:      "license_reloads_total",
		Help:      "License reload attempts by result (success, failure).",
	}, []string{"result"})

	// SubscriptionConflicts counts subscription assignments rejected for
	// period overlap.
	SubscriptionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entitled",
		Name:      "subscription_period_conflicts_total",
		Help:      "Subscription assignments rejected due to period overlap.",
	})
)
