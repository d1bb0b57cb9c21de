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

package plist

import (
	"fmt"
	"strings"
)

// Dump pretty-prints a Value tree for logs, the "pretty-prints for logs"
// half of this package's responsibility. It is intentionally compact rather than
// exhaustively typed: callers log this at a debug verbosity, not parse it.
func Dump(v Value) string {
	var b strings.Builder
	dump(&b, v, 0)
	return b.String()
}

func dump(b *strings.Builder, v Value, depth int) {
	indent := strings.Repeat("  ", depth)
	switch v.Kind {
	case KindDictionary:
		b.WriteString("{\n")
		for _, k := range v.dict_.Keys() {
			val, _ := v.dict_.Get(k)
			fmt.Fprintf(b, "%s  %s: ", indent, k)
			dump(b, val, depth+1)
			b.WriteString("\n")
		}
		fmt.Fprintf(b, "%s}", indent)
	case KindArray:
		b.WriteString("[\n")
		for _, e := range v.arr_ {
			fmt.Fprintf(b, "%s  ", indent)
			dump(b, e, depth+1)
			b.WriteString("\n")
		}
		fmt.Fprintf(b, "%s]", indent)
	case KindData:
		if len(v.data_) > 32 {
			fmt.Fprintf(b, "<data %d bytes>", len(v.data_))
		} else {
			fmt.Fprintf(b, "<data %x>", v.data_)
		}
	case KindString:
		fmt.Fprintf(b, "%q", v.str_)
	default:
		fmt.Fprintf(b, "%v", v.native())
	}
}
