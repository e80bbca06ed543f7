package mqtt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// timestampLayout is the hour-granularity stamp (yyyyMMddHH) the platform
// uses in client ids and password derivation.
const timestampLayout = "2006010215"

// Timestamp formats t as the platform's hour-granularity stamp in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// DerivePassword returns the hex HMAC-SHA256 of secret keyed by the
// timestamp of t.
func DerivePassword(secret string, t time.Time) string {
	mac := hmac.New(sha256.New, []byte(Timestamp(t)))
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// DefaultClientID returns {deviceID}_0_0_{yyyyMMddHH}: connection type 0
// (device id), signature type 0 (timestamp not checked), plus the stamp
// the password was derived from.
func DefaultClientID(deviceID string, t time.Time) string {
	return fmt.Sprintf("%s_0_0_%s", deviceID, Timestamp(t))
}

// Credentials is the username/password pair presented in CONNECT.
type Credentials struct {
	ClientID string
	Username string
	Password string
}

// ResolveCredentials fills the CONNECT identity for a device.
// Explicit values win; otherwise the client id and password are derived
// from the device id, the secret and now, and the username falls back to
// the device id.
func ResolveCredentials(deviceID, clientID, username, password, secret string, now time.Time) Credentials {
	creds := Credentials{
		ClientID: clientID,
		Username: username,
		Password: password,
	}
	if creds.ClientID == "" {
		creds.ClientID = DefaultClientID(deviceID, now)
	}
	if creds.Username == "" {
		creds.Username = deviceID
	}
	if creds.Password == "" && secret != "" {
		creds.Password = DerivePassword(secret, now)
	}
	return creds
}
