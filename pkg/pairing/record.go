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

// Package pairing implements the pairing record: the named tuple of
// certificates and identifiers produced by device pairing and required to
// start an authenticated lockdown session.
package pairing

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/plist"
)

// Record is immutable after Parse; share it by copying the struct (all
// fields are either value types or treated as read-only slices), never by
// pointer into a mutable store.
type Record struct {
	DeviceCertificate []byte // X.509 DER
	HostPrivateKey    []byte // PEM, RSA
	HostCertificate   []byte // X.509 DER
	RootPrivateKey    []byte // PEM
	RootCertificate   []byte // X.509 DER
	HostID            string // UUID, uppercase
	SystemBUID        string // UUID, uppercase
	EscrowBag         []byte
	WiFiMACAddress    string

	// Remote-pairing additions: long-term Ed25519 keys used
	// by pkg/remotepairing once a device has completed pair-setup.
	RemotePairingEd25519PublicKey  []byte
	RemotePairingEd25519PrivateKey []byte
}

const (
	keyDeviceCertificate = "DeviceCertificate"
	keyHostPrivateKey    = "HostPrivateKey"
	keyHostCertificate   = "HostCertificate"
	keyRootPrivateKey    = "RootPrivateKey"
	keyRootCertificate   = "RootCertificate"
	keyHostID            = "HostID"
	keySystemBUID        = "SystemBUID"
	keyEscrowBag         = "EscrowBag"
	keyWiFiMACAddress    = "WiFiMACAddress"
	keyRemoteEd25519Pub  = "RemotePairingEd25519PublicKey"
	keyRemoteEd25519Priv = "RemotePairingEd25519PrivateKey"
)

// Parse decodes a pairing record from its on-disk binary-plist form.
func Parse(data []byte) (*Record, error) {
	v, err := plist.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	d, ok := v.AsDictionary()
	if !ok {
		return nil, &ierrors.MalformedPlistError{Err: errNotADictionary}
	}

	r := &Record{}
	r.DeviceCertificate = dataField(d, keyDeviceCertificate)
	r.HostPrivateKey = dataField(d, keyHostPrivateKey)
	r.HostCertificate = dataField(d, keyHostCertificate)
	r.RootPrivateKey = dataField(d, keyRootPrivateKey)
	r.RootCertificate = dataField(d, keyRootCertificate)
	r.HostID = stringField(d, keyHostID)
	r.SystemBUID = stringField(d, keySystemBUID)
	r.EscrowBag = dataField(d, keyEscrowBag)
	r.WiFiMACAddress = stringField(d, keyWiFiMACAddress)
	r.RemotePairingEd25519PublicKey = dataField(d, keyRemoteEd25519Pub)
	r.RemotePairingEd25519PrivateKey = dataField(d, keyRemoteEd25519Priv)
	return r, nil
}

// Marshal re-serializes the record to its on-disk binary-plist form. The
// key order set here does not reach the output: plist.Marshal hands the
// dictionary to the encoder as a Go map.
func (r *Record) Marshal() ([]byte, error) {
	d := plist.NewDict()
	d.Set(keyDeviceCertificate, plist.Data(r.DeviceCertificate))
	d.Set(keyHostPrivateKey, plist.Data(r.HostPrivateKey))
	d.Set(keyHostCertificate, plist.Data(r.HostCertificate))
	d.Set(keyRootPrivateKey, plist.Data(r.RootPrivateKey))
	d.Set(keyRootCertificate, plist.Data(r.RootCertificate))
	d.Set(keyHostID, plist.String(r.HostID))
	d.Set(keySystemBUID, plist.String(r.SystemBUID))
	d.Set(keyEscrowBag, plist.Data(r.EscrowBag))
	d.Set(keyWiFiMACAddress, plist.String(r.WiFiMACAddress))
	if len(r.RemotePairingEd25519PublicKey) > 0 {
		d.Set(keyRemoteEd25519Pub, plist.Data(r.RemotePairingEd25519PublicKey))
	}
	if len(r.RemotePairingEd25519PrivateKey) > 0 {
		d.Set(keyRemoteEd25519Priv, plist.Data(r.RemotePairingEd25519PrivateKey))
	}
	return plist.Marshal(plist.Dictionary(d), plist.FormatBinary)
}

// WithEscrowBag returns a copy of the record with EscrowBag replaced,
// leaving the receiver untouched. Records are immutable after parse; StartService callers that need a fresher escrow bag than the one in
// the on-disk record build this instead of mutating shared state.
func (r *Record) WithEscrowBag(bag []byte) *Record {
	cp := *r
	cp.EscrowBag = append([]byte(nil), bag...)
	return &cp
}

// WithRemotePairingKeys returns a copy of the record with the
// remote-pairing Ed25519 identity set, as produced by pkg/remotepairing's
// pair-setup flow.
func (r *Record) WithRemotePairingKeys(publicKey, privateKey []byte) *Record {
	cp := *r
	cp.RemotePairingEd25519PublicKey = append([]byte(nil), publicKey...)
	cp.RemotePairingEd25519PrivateKey = append([]byte(nil), privateKey...)
	return &cp
}

// ClientCertificate builds a tls.Certificate from the host key/cert pair,
// used to present client credentials during the lockdown/service TLS
// upgrade.
func (r *Record) ClientCertificate() (tls.Certificate, error) {
	certPEM, err := derToPEM("CERTIFICATE", r.HostCertificate)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(certPEM, r.HostPrivateKey)
}

// TrustedDeviceCert parses the device's certificate so callers can build a
// cert pool that trusts exactly that certificate (device identity
// verification is not name-based).
func (r *Record) TrustedDeviceCert() (*x509.Certificate, error) {
	return x509.ParseCertificate(r.DeviceCertificate)
}

func dataField(d *plist.Dict, key string) []byte {
	v, ok := d.Get(key)
	if !ok {
		return nil
	}
	b, _ := v.AsData()
	return b
}

func stringField(d *plist.Dict, key string) string {
	v, ok := d.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}
