package bridge

import (
	"github.com/dkeye/omnio/internal/crypto"
	"github.com/dkeye/omnio/internal/domain"
)

// sealBody encrypts the confidential fields of body (text, file name,
// description and inline content). Stream URLs and call
// signaling stay in the clear; the second result reports whether anything
// was encrypted.
func sealBody(key crypto.RoomKey, body domain.Body) (domain.Body, bool, error) {
	switch v := body.(type) {
	case domain.TextBody:
		ct, err := crypto.Encrypt(key, v.Text)
		if err != nil {
			return nil, false, err
		}
		return domain.TextBody{Text: ct}, true, nil
	case domain.FileBody:
		name, err := crypto.Encrypt(key, v.Name)
		if err != nil {
			return nil, false, err
		}
		desc, err := crypto.Encrypt(key, v.Description)
		if err != nil {
			return nil, false, err
		}
		v.Name, v.Description = name, desc
		if len(v.Content) > 0 {
			content, err := crypto.Encrypt(key, string(v.Content))
			if err != nil {
				return nil, false, err
			}
			v.Content = []byte(content)
		}
		return v, true, nil
	case domain.StreamBody, domain.SignalBody:
		return body, false, nil
	default:
		return nil, false, domain.ErrUnknownKind
	}
}

// needsSeal reports whether sealBody encrypts body in a secure room.
func needsSeal(body domain.Body) bool {
	switch body.(type) {
	case domain.TextBody, domain.FileBody:
		return true
	default:
		return false
	}
}

// openBody reverses sealBody.
func openBody(key crypto.RoomKey, body domain.Body) (domain.Body, bool) {
	switch v := body.(type) {
	case domain.TextBody:
		pt, ok := crypto.Decrypt(key, v.Text)
		if !ok {
			return nil, false
		}
		return domain.TextBody{Text: pt}, true
	case domain.FileBody:
		name, ok := crypto.Decrypt(key, v.Name)
		if !ok {
			return nil, false
		}
		desc, ok := crypto.Decrypt(key, v.Description)
		if !ok {
			return nil, false
		}
		v.Name, v.Description = name, desc
		if len(v.Content) > 0 {
			content, ok := crypto.Decrypt(key, string(v.Content))
			if !ok {
				return nil, false
			}
			v.Content = []byte(content)
		}
		return v, true
	case domain.StreamBody, domain.SignalBody:
		return body, true
	default:
		return nil, false
	}
}
