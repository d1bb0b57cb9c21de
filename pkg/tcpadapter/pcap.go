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

package tcpadapter

import (
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const pcapSnaplen = 65535

// pcapWriter appends emitted and received IP packets to a libpcap file
// with link type 101 (raw IPv4/IPv6). It is owned
// exclusively by the adapter's run loop, so it needs no locking.
type pcapWriter struct {
	f *os.File
	w *pcapgo.Writer
}

func newPcapWriter(path string) (*pcapWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(pcapSnaplen, layers.LinkTypeRaw); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &pcapWriter{f: f, w: w}, nil
}

// writeRaw best-effort appends pkt; capture failures are not fatal to
// the adapter so errors are swallowed here.
func (p *pcapWriter) writeRaw(pkt []byte, _ bool) {
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(pkt),
		Length:        len(pkt),
	}
	_ = p.w.WritePacket(ci, pkt)
}

func (p *pcapWriter) Close() error {
	return p.f.Close()
}
