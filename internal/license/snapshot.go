package license

import "time"

// Mode represents the deployment mode embedded in a license. It is a
// closed set; anything else fails validation at decode time.
type Mode string

const (
	// ModeCloud is a hosted deployment; entitlements come from the
	// subscription/plan tables.
	ModeCloud Mode = "cloud"
	// ModeOnPrem is a self-hosted deployment; entitlements come from the
	// license file itself.
	ModeOnPrem Mode = "onprem"
)

// IsValid checks if the mode is a recognized value.
func (m Mode) IsValid() bool {
	switch m {
	case ModeCloud, ModeOnPrem:
		return true
	}
	return false
}

// FeatureGrant entitles an on-prem deployment to a feature. A nil
// UserLimit means unlimited seats.
type FeatureGrant struct {
	Key       string `json:"key"`
	UserLimit *int   `json:"userLimit,omitempty"`
}

// Snapshot is the immutable in-memory view of a validated license. It is
// only ever constructed from a Plaintext that passed envelope
// validation, and is replaced wholesale on reload, never mutated.
type Snapshot struct {
	Mode        Mode
	Fingerprint string
	Features    []FeatureGrant
	LoadedAt    time.Time
	NotBefore   time.Time
	NotAfter    time.Time
}

// newSnapshot derives a Snapshot from a validated license record.
func newSnapshot(lic *Plaintext) *Snapshot {
	features := make([]FeatureGrant, len(lic.Features))
	copy(features, lic.Features)
	return &Snapshot{
		Mode:        lic.Mode,
		Fingerprint: lic.MachineFingerprint,
		Features:    features,
		LoadedAt:    time.Now(),
		NotBefore:   lic.IssuedAt,
		NotAfter:    lic.ExpiresAt,
	}
}

// Grant looks up a feature grant by key.
func (s *Snapshot) Grant(featureKey string) (FeatureGrant, bool) {
	for _, f := range s.Features {
		if f.Key == featureKey {
			return f, true
		}
	}
	return FeatureGrant{}, false
}
