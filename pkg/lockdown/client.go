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

// Package lockdown implements the control session on device port 62078
// that authenticates the host and brokers access to named services. A Client moves from Unauthenticated to Session
// and rejects out-of-order calls.
package lockdown

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ioslink/idevice/internal/logging"
	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/pairing"
	"github.com/ioslink/idevice/pkg/plist"
)

// Port is the well-known lockdown service port.
const Port uint16 = 62078

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateSession
)

// Client runs the lockdown control protocol over a single connection. A
// Client is owned by one goroutine: callers must not issue concurrent
// requests on the same connection.
type Client struct {
	conn  net.Conn
	log   logr.Logger
	state sessionState

	sessionID string
}

// NewClient wraps conn (already dialed to lockdown Port) in a Client,
// starting in the Unauthenticated state.
func NewClient(conn net.Conn, log logr.Logger) *Client {
	return &Client{conn: conn, log: logging.OrDiscard(log), state: stateUnauthenticated}
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// request sends a {Label, Request: name, ...extra} dictionary and returns
// the decoded reply dictionary, surfacing any Error field as a
// LockdownError.
func (c *Client) request(name string, extra func(*plist.Dict)) (*plist.Dict, error) {
	d := plist.NewDict()
	d.Set("Label", plist.String("ioslink"))
	d.Set("Request", plist.String(name))
	if extra != nil {
		extra(d)
	}
	if err := plist.WritePlistFrame(c.conn, plist.Dictionary(d), plist.FormatXML); err != nil {
		return nil, err
	}
	v, err := plist.ReadPlistFrame(c.conn)
	if err != nil {
		return nil, err
	}
	reply, ok := v.AsDictionary()
	if !ok {
		return nil, &ierrors.MalformedPlistError{Err: errNotADict}
	}
	if errText, ok := reply.GetString("Error"); ok {
		return nil, ierrors.ClassifyLockdownError(errText)
	}
	return reply, nil
}

// QueryType may be called before a session starts; it must return
// "com.apple.mobile.lockdown".
func (c *Client) QueryType() (string, error) {
	reply, err := c.request("QueryType", nil)
	if err != nil {
		return "", err
	}
	t, ok := reply.GetString("Type")
	if !ok {
		return "", &ierrors.UnexpectedResponseError{Context: "QueryType", Key: "Type"}
	}
	return t, nil
}

// GetValue fetches a device value. domain and key are optional; an empty
// domain queries the root domain, an empty key returns the whole domain
// dictionary.
func (c *Client) GetValue(domain, key string) (plist.Value, error) {
	reply, err := c.request("GetValue", func(d *plist.Dict) {
		if domain != "" {
			d.Set("Domain", plist.String(domain))
		}
		if key != "" {
			d.Set("Key", plist.String(key))
		}
	})
	if err != nil {
		return plist.Value{}, err
	}
	v, ok := reply.Get("Value")
	if !ok {
		return plist.Value{}, &ierrors.UnexpectedResponseError{Context: "GetValue", Key: "Value"}
	}
	return v, nil
}

// SetValue sets a device value under an optional domain.
func (c *Client) SetValue(domain, key string, value plist.Value) error {
	_, err := c.request("SetValue", func(d *plist.Dict) {
		if domain != "" {
			d.Set("Domain", plist.String(domain))
		}
		d.Set("Key", plist.String(key))
		d.Set("Value", value)
	})
	return err
}

// StartSession authenticates using the host/system identifiers from record
// and returns the session id plus whether the caller must upgrade the
// connection to TLS before sending any further frames.
// StartService requires an active session; calling StartService
// first is rejected. Pair is rejected while a session is active.
func (c *Client) StartSession(record *pairing.Record) (sessionID string, enableSSL bool, err error) {
	if c.state == stateSession {
		return "", false, &ierrors.InternalError{Text: "StartSession called while a session is already active"}
	}
	reply, err := c.request("StartSession", func(d *plist.Dict) {
		d.Set("HostID", plist.String(record.HostID))
		d.Set("SystemBUID", plist.String(record.SystemBUID))
	})
	if err != nil {
		return "", false, err
	}
	sessionID, ok := reply.GetString("SessionID")
	if !ok {
		return "", false, &ierrors.UnexpectedResponseError{Context: "StartSession", Key: "SessionID"}
	}
	ssl, _ := reply.Get("EnableSessionSSL")
	enableSSL, _ = ssl.AsBool()

	c.sessionID = sessionID
	c.state = stateSession
	return sessionID, enableSSL, nil
}

// UpgradeTLS wraps the connection in a client TLS handshake using record's
// host credentials (see ClientTLSConfig for how the device's certificate
// is treated). Callers must call this immediately after a StartSession
// or StartService response reports SSL is required, before any further
// frame is written.
func (c *Client) UpgradeTLS(record *pairing.Record) error {
	cfg, err := ClientTLSConfig(record)
	if err != nil {
		return err
	}
	c.conn = tls.Client(c.conn, cfg)
	return nil
}

// ClientTLSConfig builds the TLS configuration used for both the lockdown
// session upgrade and a service stream's own SSL requirement: client
// credentials from the pairing record's host key/cert. The device's
// certificate is placed in RootCAs, but InsecureSkipVerify is set, so the
// certificate the device presents is not verified: neither its chain nor
// its name is checked.
func ClientTLSConfig(record *pairing.Record) (*tls.Config, error) {
	return tlsConfig(record)
}

func tlsConfig(record *pairing.Record) (*tls.Config, error) {
	cert, err := record.ClientCertificate()
	if err != nil {
		return nil, err
	}
	deviceCert, err := record.TrustedDeviceCert()
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(deviceCert)
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		RootCAs:            pool,
		InsecureSkipVerify: true, // peer certificate is not verified
		MinVersion:         tls.VersionTLS12,
	}, nil
}

// StartService asks lockdown to start name and returns the device port to
// dial plus whether that new stream must itself be TLS-wrapped. A session must already be active.
func (c *Client) StartService(name string, escrowBag []byte) (port uint16, ssl bool, err error) {
	if c.state != stateSession {
		return 0, false, &ierrors.InternalError{Text: "StartService called before StartSession"}
	}
	reply, err := c.request("StartService", func(d *plist.Dict) {
		d.Set("Service", plist.String(name))
		if len(escrowBag) > 0 {
			d.Set("EscrowBag", plist.Data(escrowBag))
		}
	})
	if err != nil {
		return 0, false, err
	}
	portV, ok := reply.Get("Port")
	if !ok {
		return 0, false, &ierrors.UnexpectedResponseError{Context: "StartService", Key: "Port"}
	}
	p, _ := portV.AsInt()
	sslV, _ := reply.Get("EnableServiceSSL")
	ssl, _ = sslV.AsBool()
	return uint16(p), ssl, nil
}

// Pair executes pairing check-in outside a session, returning the escrow
// bag the device issued. options may be nil.
func (c *Client) Pair(record *pairing.Record, options *plist.Dict) ([]byte, error) {
	if c.state == stateSession {
		return nil, &ierrors.InternalError{Text: "Pair called while a session is active"}
	}
	reply, err := c.request("Pair", func(d *plist.Dict) {
		pr := plist.NewDict()
		pr.Set("DeviceCertificate", plist.Data(record.DeviceCertificate))
		pr.Set("HostCertificate", plist.Data(record.HostCertificate))
		pr.Set("RootCertificate", plist.Data(record.RootCertificate))
		pr.Set("HostID", plist.String(record.HostID))
		pr.Set("SystemBUID", plist.String(record.SystemBUID))
		d.Set("PairRecord", plist.Dictionary(pr))
		if options != nil {
			d.Set("PairingOptions", plist.Dictionary(options))
		}
	})
	if err != nil {
		return nil, err
	}
	respV, ok := reply.Get("PairRecord")
	if !ok {
		return nil, &ierrors.UnexpectedResponseError{Context: "Pair", Key: "PairRecord"}
	}
	respDict, ok := respV.AsDictionary()
	if !ok {
		return nil, &ierrors.UnexpectedResponseError{Context: "Pair", Key: "PairRecord"}
	}
	bagV, ok := respDict.Get("EscrowBag")
	if !ok {
		return nil, &ierrors.UnexpectedResponseError{Context: "Pair", Key: "EscrowBag"}
	}
	bag, _ := bagV.AsData()
	return bag, nil
}

// NewHostID generates a fresh host identifier UUID string for first-time
// pairing. Lockdown expects the uppercase form.
func NewHostID() string {
	return uuidUpper()
}

func uuidUpper() string {
	id := uuid.New()
	return strings.ToUpper(id.String())
}

var errNotADict = errors.New("lockdown reply is not a dictionary")
