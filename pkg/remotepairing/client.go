/*
Copyright 2026 The ioslink authors.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package remotepairing implements the remote-pairing state machine
// : the Ed25519+X25519+SRP-6a pair-setup and pair-verify
// exchange that runs over a length-prefixed JSON transport (magic
// "RPPairing") before CoreDeviceProxy tunnel traffic is trusted. A
// successful pair-setup produces the long-term Ed25519 keys stored back
// into a pairing.Record.
package remotepairing

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"

	"github.com/go-logr/logr"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/ioslink/idevice/internal/logging"
	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/opack"
	"github.com/ioslink/idevice/pkg/pairing"
)

const (
	rpPairingMagic      = "RPPairing"
	wireProtocolVersion = 19
)

// PINPrompt is called when the device requires the user to confirm a PIN
// displayed on screen; it returns the six-digit code to send back.
type PINPrompt func() string

// Client drives one remote-pairing session over a framed connection.
// Callers obtain conn by dialing the device's RemotePairing service,
// typically through pkg/tcpadapter once an RSD catalogue entry names the
// port.
type Client struct {
	conn        io.ReadWriter
	log         logr.Logger
	sequence    uint64
	sendingHost string
	record      pairing.Record

	clientCipher cipher.AEAD
	serverCipher cipher.AEAD
}

// NewClient constructs a Client bound to conn. record supplies the
// long-term Ed25519 identity if pairing has already happened; after a
// fresh Pair() the caller should persist the Record returned by
// PairingRecord.
func NewClient(conn io.ReadWriter, sendingHost string, record pairing.Record, log logr.Logger) (*Client, error) {
	c := &Client{conn: conn, sendingHost: sendingHost, record: record, log: logging.OrDiscard(log)}
	if len(record.RemotePairingEd25519PrivateKey) == ed25519.PrivateKeySize {
		if err := c.deriveMainCiphers(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// PairingRecord returns the record backing this client, including any
// long-term keys established by a successful Pair().
func (c *Client) PairingRecord() pairing.Record {
	return c.record
}

// TunnelCiphers returns the ChaCha20-Poly1305 AEADs derived from the
// long-term identity ("ClientEncrypt-main"/"ServerEncrypt-main") once
// pairing has completed. Callers encrypting/decrypting
// CoreDeviceProxy tunnel traffic outside this package use these directly;
// they are nil until a long-term identity is present, either from the
// record passed to NewClient or from a successful Pair.
func (c *Client) TunnelCiphers() (client, server cipher.AEAD) {
	return c.clientCipher, c.serverCipher
}

func (c *Client) deriveMainCiphers() error {
	priv := c.record.RemotePairingEd25519PrivateKey
	clientKey, err := hkdfExpand(nil, priv, []byte("ClientEncrypt-main"))
	if err != nil {
		return err
	}
	serverKey, err := hkdfExpand(nil, priv, []byte("ServerEncrypt-main"))
	if err != nil {
		return err
	}
	c.clientCipher, err = chacha20poly1305.New(clientKey)
	if err != nil {
		return err
	}
	c.serverCipher, err = chacha20poly1305.New(serverKey)
	return err
}

func hkdfExpand(salt, ikm, info []byte) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha512.New, ikm, salt, info), out); err != nil {
		return nil, &ierrors.InternalError{Text: "remotepairing: hkdf expand failed: " + err.Error()}
	}
	return out, nil
}

// Connect performs pair-verify, falling back to a full pair-setup when
// verification fails because no (or a stale) long-term identity is on
// file.
func (c *Client) Connect(pin PINPrompt) error {
	if _, err := c.attemptPairVerifyHandshake(); err != nil {
		return err
	}
	if err := c.PairVerify(); err != nil {
		return c.Pair(pin)
	}
	return nil
}

// ---- framing ----

func (c *Client) sendRPPairing(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return &ierrors.InternalError{Text: "remotepairing: marshal failed: " + err.Error()}
	}
	if len(body) > 0xffff {
		return &ierrors.InternalError{Text: "remotepairing: outgoing message too large"}
	}
	out := make([]byte, 0, len(rpPairingMagic)+2+len(body))
	out = append(out, rpPairingMagic...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(body)))
	out = append(out, body...)
	if _, err := c.conn.Write(out); err != nil {
		return &ierrors.TransportError{Op: "remotepairing write", Err: err}
	}
	return nil
}

func (c *Client) recvRPPairing() (map[string]any, error) {
	magic := make([]byte, len(rpPairingMagic))
	if _, err := io.ReadFull(c.conn, magic); err != nil {
		return nil, &ierrors.TransportError{Op: "remotepairing read magic", Err: err}
	}
	if string(magic) != rpPairingMagic {
		return nil, &ierrors.InternalError{Text: "remotepairing: bad frame magic"}
	}
	var lenBuf [2]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		return nil, &ierrors.TransportError{Op: "remotepairing read length", Err: err}
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, &ierrors.TransportError{Op: "remotepairing read body", Err: err}
	}
	var v map[string]any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, &ierrors.InternalError{Text: "remotepairing: malformed JSON frame: " + err.Error()}
	}
	return v, nil
}

func (c *Client) sendPlainRequest(v any) error {
	seq := c.sequence
	c.sequence++
	return c.sendRPPairing(map[string]any{
		"message":        map[string]any{"plain": map[string]any{"_0": v}},
		"originatedBy":   "host",
		"sequenceNumber": seq,
	})
}

func (c *Client) recvPlainRequest() (map[string]any, error) {
	v, err := c.recvRPPairing()
	if err != nil {
		return nil, err
	}
	return digMap(v, "message", "plain", "_0")
}

// dig walks a chain of map keys in a decoded JSON document, returning the
// raw value found at the end of path.
func dig(v map[string]any, path ...string) (any, bool) {
	var cur any = v
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// digMap is dig, requiring the result to be itself a JSON object.
func digMap(v map[string]any, path ...string) (map[string]any, error) {
	val, ok := dig(v, path...)
	if !ok {
		return nil, &ierrors.UnexpectedResponseError{Context: "remote pairing message", Key: path[len(path)-1]}
	}
	m, ok := val.(map[string]any)
	if !ok {
		return nil, &ierrors.UnexpectedResponseError{Context: "remote pairing message", Key: path[len(path)-1]}
	}
	return m, nil
}

// digString is dig, requiring the result to be a JSON string. Pairing-data
// TLV8 blobs arrive this way, base64-encoded.
func digString(v map[string]any, path ...string) (string, bool) {
	val, ok := dig(v, path...)
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}

func (c *Client) sendPairingData(data []byte, kind string, startNewSession bool) error {
	payload := map[string]any{
		"data":            data,
		"kind":            kind,
		"startNewSession": startNewSession,
	}
	if kind == "setupManualPairing" {
		payload["sendingHost"] = c.sendingHost
	}
	return c.sendPlainRequest(map[string]any{"event": map[string]any{"_0": map[string]any{"pairingData": map[string]any{"_0": payload}}}})
}

func (c *Client) recvPairingData() ([]byte, error) {
	resp, err := c.recvPlainRequest()
	if err != nil {
		return nil, err
	}
	event, err := digMap(resp, "event", "_0")
	if err != nil {
		return nil, err
	}
	if s, ok := digString(event, "pairingData", "_0", "data"); ok {
		return base64.StdEncoding.DecodeString(s)
	}
	if rejected, err := digMap(event, "pairingRejectedWithError"); err == nil {
		return nil, &ierrors.PairingRejectedError{Msg: rejectionMessage(rejected)}
	}
	return nil, &ierrors.UnexpectedResponseError{Context: "remote pairing event", Key: "pairingData"}
}

func (c *Client) sendPairVerifyFailed() error {
	return c.sendPlainRequest(map[string]any{"event": map[string]any{"_0": map[string]any{"pairVerifyFailed": map[string]any{}}}})
}

func rejectionMessage(m map[string]any) string {
	wrapped, ok := m["wrappedError"].(map[string]any)
	if !ok {
		return ""
	}
	userInfo, ok := wrapped["userInfo"].(map[string]any)
	if !ok {
		return ""
	}
	if msg, ok := userInfo["NSLocalizedDescription"].(string); ok {
		return msg
	}
	return ""
}

// ---- pair-verify ----

func (c *Client) attemptPairVerifyHandshake() (map[string]any, error) {
	err := c.sendPlainRequest(map[string]any{
		"request": map[string]any{"_0": map[string]any{"handshake": map[string]any{"_0": map[string]any{
			"hostOptions":         map[string]any{"attemptPairVerify": true},
			"wireProtocolVersion": wireProtocolVersion,
		}}}},
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.recvPlainRequest()
	if err != nil {
		return nil, err
	}
	return digMap(resp, "response", "_1", "handshake", "_0")
}

// PairVerify runs the X25519/Ed25519 pair-verify exchange against the
// long-term identity already in c.record.
func (c *Client) PairVerify() error {
	if len(c.record.RemotePairingEd25519PrivateKey) != ed25519.PrivateKeySize {
		return &ierrors.PairVerifyFailedError{Err: errors.New("no long-term identity on file")}
	}

	var xPriv [32]byte
	if _, err := rand.Read(xPriv[:]); err != nil {
		return &ierrors.InternalError{Text: "remotepairing: rng failure: " + err.Error()}
	}
	xPriv[0] &= 248
	xPriv[31] &= 127
	xPriv[31] |= 64
	xPub, err := curve25519.X25519(xPriv[:], curve25519.Basepoint)
	if err != nil {
		return &ierrors.InternalError{Text: "remotepairing: x25519 basepoint mult failed: " + err.Error()}
	}

	tlv := encodeTLV8([]tlvEntry{
		{Type: tlvState, Data: []byte{0x01}},
		{Type: tlvPublicKey, Data: xPub},
	})
	if err := c.sendPairingData(tlv, "verifyManualPairing", true); err != nil {
		return err
	}

	reply, err := c.recvPairingData()
	if err != nil {
		return err
	}
	entries := decodeTLV8(reply)
	if tlvHas(entries, tlvError) {
		_ = c.sendPairVerifyFailed()
		return &ierrors.PairVerifyFailedError{Err: errors.New("device reported a TLV error")}
	}
	devicePub, ok := tlvFind(entries, tlvPublicKey)
	if !ok || len(devicePub) != 32 {
		return &ierrors.UnexpectedResponseError{Context: "pair verify", Key: "PublicKey"}
	}

	shared, err := curve25519.X25519(xPriv[:], devicePub)
	if err != nil {
		return &ierrors.PairVerifyFailedError{Err: err}
	}
	sessionKey, err := hkdfExpand([]byte("Pair-Verify-Encrypt-Salt"), shared, []byte("Pair-Verify-Encrypt-Info"))
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return &ierrors.InternalError{Text: "remotepairing: cipher init failed: " + err.Error()}
	}

	priv := ed25519.PrivateKey(c.record.RemotePairingEd25519PrivateKey)
	identifier := []byte(c.record.HostID)
	signBuf := make([]byte, 0, 32+len(identifier)+32)
	signBuf = append(signBuf, xPub...)
	signBuf = append(signBuf, identifier...)
	signBuf = append(signBuf, devicePub...)
	signature := ed25519.Sign(priv, signBuf)

	plaintext := encodeTLV8([]tlvEntry{
		{Type: tlvIdentifier, Data: identifier},
		{Type: tlvSignature, Data: signature},
	})
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[4:], "PV-Msg03")
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	msg := encodeTLV8([]tlvEntry{
		{Type: tlvState, Data: []byte{0x03}},
		{Type: tlvEncryptedData, Data: ciphertext},
	})
	if err := c.sendPairingData(msg, "verifyManualPairing", false); err != nil {
		return err
	}

	res, err := c.recvPairingData()
	if err != nil {
		return err
	}
	resEntries := decodeTLV8(res)
	if tlvHas(resEntries, tlvError) {
		_ = c.sendPairVerifyFailed()
		return &ierrors.PairVerifyFailedError{Err: errors.New("device rejected verification (expected on first pairing)")}
	}

	return c.deriveMainCiphers()
}

// ---- pair-setup ----

// Pair runs the full SRP-6a pair-setup flow,
// prompting for the on-screen PIN via pin when the device does not
// return it directly (e.g. Apple TV).
func (c *Client) Pair(pin PINPrompt) error {
	salt, devicePub, code, err := c.requestPairConsent(pin)
	if err != nil {
		return err
	}
	sessionKey, err := c.runSRPExchange(salt, devicePub, code)
	if err != nil {
		return err
	}
	return c.saveRemoteIdentity(sessionKey)
}

func (c *Client) requestPairConsent(pin PINPrompt) (salt, devicePub []byte, code string, err error) {
	tlv := encodeTLV8([]tlvEntry{
		{Type: tlvMethod, Data: []byte{0x00}},
		{Type: tlvState, Data: []byte{0x01}},
	})
	if err := c.sendPairingData(tlv, "setupManualPairing", true); err != nil {
		return nil, nil, "", err
	}

	resp, err := c.recvPlainRequest()
	if err != nil {
		return nil, nil, "", err
	}
	event, err := digMap(resp, "event", "_0")
	if err != nil {
		return nil, nil, "", err
	}

	var pairingData []byte
	var codeFromDevice string
	switch {
	case hasKey(event, "pairingRejectedWithError"):
		rejected, _ := digMap(event, "pairingRejectedWithError")
		return nil, nil, "", &ierrors.PairingRejectedError{Msg: rejectionMessage(rejected)}
	case hasKey(event, "awaitingUserConsent"):
		codeFromDevice = "000000"
		pairingData, err = c.recvPairingData()
		if err != nil {
			return nil, nil, "", err
		}
	default:
		s, ok := digString(event, "pairingData", "_0", "data")
		if !ok {
			return nil, nil, "", &ierrors.UnexpectedResponseError{Context: "pair setup", Key: "pairingData"}
		}
		pairingData, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, nil, "", &ierrors.UnexpectedResponseError{Context: "pair setup", Key: "pairingData"}
		}
	}

	entries := decodeTLV8(pairingData)
	for _, e := range entries {
		switch e.Type {
		case tlvSalt:
			salt = e.Data
		case tlvPublicKey:
			devicePub = append(devicePub, e.Data...)
		case tlvError:
			return nil, nil, "", &ierrors.UnexpectedResponseError{Context: "pair setup", Key: "salt/public key"}
		}
	}
	if len(salt) == 0 || len(devicePub) == 0 {
		return nil, nil, "", &ierrors.UnexpectedResponseError{Context: "pair setup", Key: "salt/public key"}
	}

	if codeFromDevice != "" {
		code = codeFromDevice
	} else if pin != nil {
		code = pin()
	} else {
		return nil, nil, "", &ierrors.InternalError{Text: "remotepairing: device requires a PIN but no prompt was supplied"}
	}
	return salt, devicePub, code, nil
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// runSRPExchange performs the SRP-6a proof exchange and returns the shared session key K.
func (c *Client) runSRPExchange(salt, devicePub []byte, pin string) ([]byte, error) {
	password := []byte(pin)
	if len(password) > 6 {
		password = password[:6]
	}
	client, err := newSRPClient([]byte("Pair-Setup"), password)
	if err != nil {
		return nil, err
	}

	m1, err := client.processServerReply(salt, devicePub)
	if err != nil {
		return nil, err
	}

	a := client.publicEphemeral()
	tlv := encodeTLV8([]tlvEntry{
		{Type: tlvState, Data: []byte{0x03}},
		{Type: tlvPublicKey, Data: a},
		{Type: tlvProof, Data: m1},
	})
	if err := c.sendPairingData(tlv, "setupManualPairing", false); err != nil {
		return nil, err
	}

	reply, err := c.recvPairingData()
	if err != nil {
		return nil, err
	}
	entries := decodeTLV8(reply)
	m2, ok := tlvFind(entries, tlvProof)
	if !ok {
		return nil, &ierrors.UnexpectedResponseError{Context: "pair setup", Key: "Proof"}
	}
	if err := client.verifyServerProof(m1, m2); err != nil {
		return nil, err
	}
	return client.sessionKey(), nil
}

// saveRemoteIdentity finishes pair-setup: generate a fresh Ed25519
// identity, sign a value derived from the SRP session key plus the host
// identifier and new public key with the new private key, wrap the
// OPACK device-info blob, encrypt and exchange the final handshake
// messages, and store the resulting identity into c.record.
func (c *Client) saveRemoteIdentity(sessionKey []byte) error {
	setupKey, err := hkdfExpand([]byte("Pair-Setup-Encrypt-Salt"), sessionKey, []byte("Pair-Setup-Encrypt-Info"))
	if err != nil {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return &ierrors.InternalError{Text: "remotepairing: ed25519 keygen failed: " + err.Error()}
	}
	c.record = *c.record.WithRemotePairingKeys(pub, priv)
	if err := c.deriveMainCiphers(); err != nil {
		return err
	}

	signSalt, err := hkdfExpand([]byte("Pair-Setup-Controller-Sign-Salt"), sessionKey, []byte("Pair-Setup-Controller-Sign-Info"))
	if err != nil {
		return err
	}

	identifier := []byte(c.record.HostID)
	signBuf := make([]byte, 0, len(signSalt)+len(identifier)+ed25519.PublicKeySize)
	signBuf = append(signBuf, signSalt...)
	signBuf = append(signBuf, identifier...)
	signBuf = append(signBuf, pub...)
	signature := ed25519.Sign(priv, signBuf)

	deviceInfo := opack.NewDict()
	deviceInfo.Set("accountID", c.record.HostID)
	deviceInfo.Set("model", "computer-model")
	deviceInfo.Set("name", c.sendingHost)
	deviceInfo.Set("mac", []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	deviceInfo.Set("remotepairing_serial_number", "AAAAAAAAAAAA")
	deviceInfo.Set("btAddr", "11:22:33:44:55:66")
	deviceInfo.Set("altIRK", []byte{0xe9, 0xe8, 0x2d, 0xc0, 0x6a, 0x49, 0x79, 0x6b, 0x56, 0x6f, 0x54, 0x00, 0x19, 0xb1, 0xc7, 0x7b})
	infoBytes, err := opack.Encode(deviceInfo)
	if err != nil {
		return err
	}

	plaintext := encodeTLV8([]tlvEntry{
		{Type: tlvIdentifier, Data: identifier},
		{Type: tlvPublicKey, Data: pub},
		{Type: tlvSignature, Data: signature},
		{Type: tlvInfo, Data: infoBytes},
	})

	aead, err := chacha20poly1305.New(setupKey)
	if err != nil {
		return &ierrors.InternalError{Text: "remotepairing: cipher init failed: " + err.Error()}
	}
	nonce5 := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce5[4:], "PS-Msg05")
	ciphertext := aead.Seal(nil, nonce5, plaintext, nil)

	tlv := encodeTLV8([]tlvEntry{
		{Type: tlvEncryptedData, Data: ciphertext},
		{Type: tlvState, Data: []byte{0x05}},
	})
	if err := c.sendPairingData(tlv, "setupManualPairing", false); err != nil {
		return err
	}

	reply, err := c.recvPairingData()
	if err != nil {
		return err
	}
	entries := decodeTLV8(reply)
	if tlvHas(entries, tlvError) {
		return &ierrors.UnexpectedResponseError{Context: "pair setup", Key: "encrypted device response"}
	}
	deviceCiphertext, ok := tlvFind(entries, tlvEncryptedData)
	if !ok {
		return &ierrors.UnexpectedResponseError{Context: "pair setup", Key: "EncryptedData"}
	}

	nonce6 := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce6[4:], "PS-Msg06")
	devicePlain, err := aead.Open(nil, nonce6, deviceCiphertext, nil)
	if err != nil {
		return &ierrors.InternalError{Text: "remotepairing: final decryption failed: " + err.Error()}
	}
	_ = decodeTLV8(devicePlain) // device's own long-term identity; not verified independently here

	c.log.V(1).Info("pair-setup complete", "hostID", c.record.HostID)
	return nil
}
