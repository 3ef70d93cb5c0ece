package orchestration

import (
	"fmt"
	"strings"
)

// InsufficientModelsError reports an unmet stage quorum.
type InsufficientModelsError struct {
	CorrelationID    string   `json:"correlation_id"`
	Stage            Stage    `json:"stage"`
	ModelsRequired   int      `json:"models_required"`
	ModelsAvailable  int      `json:"models_available"`
	ProvidersPresent []string `json:"providers_present"`
	ProvidersMissing []string `json:"providers_missing"`
}

func (e *InsufficientModelsError) Error() string {
	msg := fmt.Sprintf("stage %s quorum unmet: %d models available, %d required",
		e.Stage, e.ModelsAvailable, e.ModelsRequired)
	if len(e.ProvidersMissing) > 0 {
		msg += fmt.Sprintf(" (missing providers: %s)", strings.Join(e.ProvidersMissing, ", "))
	}
	return msg
}

// SynthesisFailureError reports that both the lead model and the fallback
// candidate failed to produce the combined response.
type SynthesisFailureError struct {
	CorrelationID   string `json:"correlation_id"`
	LeadModelID     string `json:"lead_model_id"`
	FallbackModelID string `json:"fallback_model_id,omitempty"`
	LeadErr         error  `json:"-"`
	FallbackErr     error  `json:"-"`
}

func (e *SynthesisFailureError) Error() string {
	if e.FallbackModelID != "" {
		return fmt.Sprintf("synthesis failed on lead %s (%v) and fallback %s (%v)",
			e.LeadModelID, e.LeadErr, e.FallbackModelID, e.FallbackErr)
	}
	return fmt.Sprintf("synthesis failed on lead %s (%v), no fallback candidate", e.LeadModelID, e.LeadErr)
}

func (e *SynthesisFailureError) Unwrap() error { return e.LeadErr }
