package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.mau.fi/whatsmeow/proto/waAdv"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/util/keys"
	"google.golang.org/protobuf/proto"
)

// ErrNoCreds is returned when the library never produced a credentials file.
var ErrNoCreds = errors.New("credentials file not found")

// KeyPair is a Curve25519 key pair as stored in creds.json.
type KeyPair struct {
	Private []byte `json:"private"`
	Public  []byte `json:"public"`
}

type SignedPreKey struct {
	KeyPair   KeyPair `json:"keyPair"`
	KeyID     uint32  `json:"keyId"`
	Signature []byte  `json:"signature"`
}

// Me identifies the account the device was linked to.
type Me struct {
	ID   string `json:"id"`
	LID  string `json:"lid,omitempty"`
	Name string `json:"name,omitempty"`
}

// Creds is the JSON document written to creds.json once the device is authenticated.
type Creds struct {
	NoiseKey          KeyPair      `json:"noiseKey"`
	SignedIdentityKey KeyPair      `json:"signedIdentityKey"`
	SignedPreKey      SignedPreKey `json:"signedPreKey"`
	RegistrationID    uint32       `json:"registrationId"`
	AdvSecretKey      []byte       `json:"advSecretKey"`
	Me                *Me          `json:"me,omitempty"`
	Account           []byte       `json:"account,omitempty"`
	Platform          string       `json:"platform,omitempty"`
	BusinessName      string       `json:"businessName,omitempty"`
	Registered        bool         `json:"registered"`
}

func keyPair(kp *keys.KeyPair) KeyPair {
	var out KeyPair
	if kp == nil {
		return out
	}
	if kp.Priv != nil {
		out.Private = kp.Priv[:]
	}
	if kp.Pub != nil {
		out.Public = kp.Pub[:]
	}
	return out
}

// CredsFromDevice exports the authentication state held by a whatsmeow device store.
func CredsFromDevice(device *store.Device) (*Creds, error) {
	if device == nil {
		return nil, errors.New("nil device")
	}
	creds := &Creds{
		NoiseKey:          keyPair(device.NoiseKey),
		SignedIdentityKey: keyPair(device.IdentityKey),
		RegistrationID:    device.RegistrationID,
		AdvSecretKey:      device.AdvSecretKey,
		Platform:          device.Platform,
		BusinessName:      device.BusinessName,
		Registered:        device.ID != nil,
	}
	if pk := device.SignedPreKey; pk != nil {
		creds.SignedPreKey.KeyPair = keyPair(&pk.KeyPair)
		creds.SignedPreKey.KeyID = pk.KeyID
		if pk.Signature != nil {
			creds.SignedPreKey.Signature = pk.Signature[:]
		}
	}
	if device.ID != nil {
		creds.Me = &Me{ID: device.ID.String(), Name: device.PushName}
		if !device.LID.IsEmpty() {
			creds.Me.LID = device.LID.String()
		}
	}
	if device.Account != nil {
		account, err := proto.Marshal(device.Account)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal device identity: %w", err)
		}
		creds.Account = account
	}
	return creds, nil
}

// DeviceIdentity unmarshals the signed device identity carried in Account.
func (c *Creds) DeviceIdentity() (*waAdv.ADVSignedDeviceIdentity, error) {
	if len(c.Account) == 0 {
		return nil, nil
	}
	var identity waAdv.ADVSignedDeviceIdentity
	if err := proto.Unmarshal(c.Account, &identity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device identity: %w", err)
	}
	return &identity, nil
}

// SaveCreds writes the device credentials to creds.json, replacing any earlier copy.
func (w *Workspace) SaveCreds(device *store.Device) error {
	creds, err := CredsFromDevice(device)
	if err != nil {
		return err
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	tmp := w.CredsPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, w.CredsPath()); err != nil {
		return fmt.Errorf("failed to move credentials into place: %w", err)
	}
	return nil
}

// ReadCreds returns the raw bytes of creds.json.
func (w *Workspace) ReadCreds() ([]byte, error) {
	data, err := os.ReadFile(w.CredsPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCreds
	} else if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return data, nil
}
