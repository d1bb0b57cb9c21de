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

// Package rsd implements the RemoteServiceDiscovery handshake:
// the single XPC exchange that, once the user-space TCP adapter
// has reached the RSD port inside a CoreDeviceProxy tunnel, returns the
// catalogue of RemoteXPC services the device is willing to open.
package rsd

import (
	"io"

	"github.com/go-logr/logr"

	"github.com/ioslink/idevice/internal/logging"
	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/xpc"
)

// Service describes one catalogue entry: the device port to
// connect to for this service plus the properties the handshake reply
// carries alongside it.
type Service struct {
	Port           uint16
	UsesRemoteXPC  bool
	ServiceVersion *int64
	Features       []string
	Entitlement    string
}

// Handshake holds the parsed result of performing the RSD exchange:
// protocol version, device UUID, and the full service catalogue.
type Handshake struct {
	ProtocolVersion string
	UUID            string
	Services        map[string]Service
}

// Service looks up a catalogue entry by name.
func (h *Handshake) Service(name string) (Service, bool) {
	s, ok := h.Services[name]
	return s, ok
}

// ServiceNames returns the catalogue's service names in no particular
// order (the wire dictionary's ordering is not load-bearing here, unlike
// plist/XPC dictionaries used for requests).
func (h *Handshake) ServiceNames() []string {
	out := make([]string, 0, len(h.Services))
	for name := range h.Services {
		out = append(out, name)
	}
	return out
}

// Perform runs the RSD handshake over rw: it sends an XPC message with
// flags AlwaysSet|InitHandshake and an empty body, then reads back the
// catalogue dictionary. rw is typically a *tcpadapter.Stream
// dialed to the in-tunnel RSD port.
func Perform(rw io.ReadWriter, log logr.Logger) (*Handshake, error) {
	log = logging.OrDiscard(log)
	req := xpc.Message{Flags: xpc.FlagAlwaysSet | xpc.FlagInitHandshake, MessageID: 1}
	if err := xpc.WriteMessage(rw, req); err != nil {
		return nil, err
	}
	log.V(1).Info("sent RSD handshake request")

	reply, err := xpc.ReadMessage(rw)
	if err != nil {
		return nil, err
	}
	if reply.Flags&xpc.FlagInitHandshake == 0 {
		return nil, &ierrors.InternalError{Text: "rsd: handshake reply did not echo InitHandshake flag"}
	}
	if !reply.Has() {
		return nil, &ierrors.UnexpectedResponseError{Context: "rsd handshake", Key: "<body>"}
	}
	return parseHandshake(reply.Body)
}

func parseHandshake(body xpc.Object) (*Handshake, error) {
	dict, ok := body.AsDictionary()
	if !ok {
		return nil, &ierrors.InternalError{Text: "rsd: handshake body is not a dictionary"}
	}

	h := &Handshake{Services: make(map[string]Service)}

	if v, ok := dict.Get("ProtocolVersion"); ok {
		h.ProtocolVersion = stringify(v)
	}
	if v, ok := dict.Get("UUID"); ok {
		h.UUID = stringify(v)
	}

	servicesV, ok := dict.Get("Services")
	if !ok {
		return nil, &ierrors.UnexpectedResponseError{Context: "rsd handshake", Key: "Services"}
	}
	servicesDict, ok := servicesV.AsDictionary()
	if !ok {
		return nil, &ierrors.InternalError{Text: "rsd: Services is not a dictionary"}
	}

	for _, name := range servicesDict.Keys() {
		entryV, _ := servicesDict.Get(name)
		svc, err := parseService(entryV)
		if err != nil {
			return nil, err
		}
		h.Services[name] = svc
	}
	return h, nil
}

func parseService(entryV xpc.Object) (Service, error) {
	entry, ok := entryV.AsDictionary()
	if !ok {
		return Service{}, &ierrors.InternalError{Text: "rsd: service entry is not a dictionary"}
	}

	var svc Service
	if portV, ok := entry.Get("Port"); ok {
		switch portV.Kind {
		case xpc.KindUInt64:
			v, _ := portV.AsUInt64()
			svc.Port = uint16(v)
		case xpc.KindInt64:
			v, _ := portV.AsInt64()
			svc.Port = uint16(v)
		case xpc.KindString:
			s, _ := portV.AsString()
			var p int
			for _, c := range s {
				if c < '0' || c > '9' {
					p = 0
					break
				}
				p = p*10 + int(c-'0')
			}
			svc.Port = uint16(p)
		}
	}

	propsV, ok := entry.Get("Properties")
	if !ok {
		return Service{}, &ierrors.UnexpectedResponseError{Context: "rsd service entry", Key: "Properties"}
	}
	props, ok := propsV.AsDictionary()
	if !ok {
		return Service{}, &ierrors.InternalError{Text: "rsd: Properties is not a dictionary"}
	}

	if v, ok := props.Get("UsesRemoteXPC"); ok {
		svc.UsesRemoteXPC, _ = v.AsBool()
	}
	if v, ok := props.Get("ServiceVersion"); ok {
		n, _ := v.AsInt64()
		svc.ServiceVersion = &n
	}
	if v, ok := props.Get("Features"); ok {
		arr, _ := v.AsArray()
		for _, item := range arr {
			if s, ok := item.AsString(); ok {
				svc.Features = append(svc.Features, s)
			}
		}
	}
	if v, ok := props.Get("Entitlement"); ok {
		svc.Entitlement, _ = v.AsString()
	}

	return svc, nil
}

func stringify(v xpc.Object) string {
	switch v.Kind {
	case xpc.KindString:
		s, _ := v.AsString()
		return s
	default:
		return v.String()
	}
}
