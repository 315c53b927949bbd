package badge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// tokenMetadata is the JSON document a badge token URI carries.
type tokenMetadata struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Image       string           `json:"image,omitempty"`
	ExternalURL string           `json:"external_url,omitempty"`
	Attributes  []tokenAttribute `json:"attributes"`
}

type tokenAttribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// TokenURI renders the self-describing metadata URI for a badge. The result
// is a data URI embedding the JSON document base64-encoded, so no external
// server is needed to resolve it. display may be nil when the receiving
// account never configured one.
func TokenURI(id BadgeID, record *Record, display *DisplayConfig, now uint32) (string, error) {
	if record == nil {
		return "", ErrRecordNotFound
	}

	name := ""
	var cfg DisplayConfig
	if display != nil {
		cfg = *display
		name = cfg.Name
	}
	if name == "" {
		name = fmt.Sprintf("Support Badge %s", shortID(id))
	}

	status := "expired"
	if record.ActiveAt(now) {
		status = "active"
	}
	meta := tokenMetadata{
		Name:        name,
		Description: fmt.Sprintf("Support badge for account %s, streaming asset %#x.", record.Account, record.Asset),
		Image:       cfg.ImageURI,
		ExternalURL: cfg.ExternalURL,
		Attributes: []tokenAttribute{
			{TraitType: "rate", Value: record.RateValue().Dec()},
			{TraitType: "active_from", Value: record.ActiveFrom},
			{TraitType: "active_until", Value: record.ActiveUntil},
			{TraitType: "status", Value: status},
		},
	}
	if cfg.CustomData != "" {
		meta.Attributes = append(meta.Attributes, tokenAttribute{TraitType: "custom", Value: cfg.CustomData})
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("badge: encode token metadata: %w", err)
	}
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(payload), nil
}

func shortID(id BadgeID) string {
	full := id.String()
	// 0x + first four bytes.
	return full[:10]
}
