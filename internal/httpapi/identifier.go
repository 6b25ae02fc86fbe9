package httpapi

import "github.com/ocx/evcentral/internal/vid"

// UserIdentifier carries every opaque identifier the control plane accepts
// for a person or vehicle. Fields are tried in declaration order; the first
// non-empty one supplies the (source_type, source_value) pair resolved to a
// VID.
type UserIdentifier struct {
	VID           string `json:"vid,omitempty"`
	MAC           string `json:"mac,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	Phone         string `json:"phone,omitempty"`
	AppID         string `json:"app_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	QRID          string `json:"qr_id,omitempty"`
}

// resolve returns the VID for the first populated field, in declaration
// order, or false if every field is empty.
func (u UserIdentifier) resolve(r *vid.Resolver) (string, bool) {
	switch {
	case u.VID != "":
		return r.Resolve("vid", u.VID), true
	case u.MAC != "":
		return r.Resolve("mac", u.MAC), true
	case u.UserID != "":
		return r.Resolve("user_id", u.UserID), true
	case u.Phone != "":
		return r.Resolve("phone", u.Phone), true
	case u.AppID != "":
		return r.Resolve("app_id", u.AppID), true
	case u.TransactionID != "":
		return r.Resolve("transaction_id", u.TransactionID), true
	case u.QRID != "":
		return r.Resolve("qr_id", u.QRID), true
	default:
		return "", false
	}
}
