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

package remotepairing

import "github.com/ioslink/idevice/internal/tlvutil"

// TLV8 component types: Apple's
// type-length-value byte layout, one byte type and one byte length,
// values over 255 bytes split across contiguous entries of the same
// type and reassembled on decode. The generic reader/writer lives in
// internal/tlvutil; these are this protocol's own tag assignments.
const (
	tlvMethod        = 0x00
	tlvIdentifier    = 0x01
	tlvSalt          = 0x02
	tlvPublicKey     = 0x03
	tlvProof         = 0x04
	tlvEncryptedData = 0x05
	tlvState         = 0x06
	tlvError         = 0x07
	tlvRetryDelay    = 0x08
	tlvCertificate   = 0x09
	tlvSignature     = 0x0a
	tlvPermissions   = 0x0b
	tlvFragmentData  = 0x0c
	tlvFragmentLast  = 0x0d
	tlvFlags         = 0x13
	tlvInfo          = 0x11
	tlvSeparator     = 0xff
)

// tlvEntry aliases the shared (type, value) pair so call sites in this
// package read the same as before the generic reader/writer moved out.
type tlvEntry = tlvutil.Entry

func encodeTLV8(entries []tlvEntry) []byte { return tlvutil.Encode(entries) }

func decodeTLV8(b []byte) []tlvEntry { return tlvutil.Decode(b) }

func tlvFind(entries []tlvEntry, typ byte) ([]byte, bool) { return tlvutil.Find(entries, typ) }

func tlvHas(entries []tlvEntry, typ byte) bool { return tlvutil.Has(entries, typ) }
