package ipanon_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"tally/internal/pkg/ipanon"
)

func TestAnonymise(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"ipv4", "192.168.1.100", "192.168.1.0"},
		{"ipv4 already zeroed", "10.0.0.0", "10.0.0.0"},
		{"ipv6 full", "2001:db8:85a3:0:0:8a2e:370:7334", "2001:db8:85a3:0:0:8a2e:0:0"},
		{"ipv6 compressed", "2001:db8::1", "2001:db8:0:0"},
		{"ipv6 loopback", "::1", ":0:0"},
		{"ipv4 mapped ipv6", "::ffff:192.0.2.128", "::ffff:192.0.2.0"},
		{"hostname", "localhost", "localhost"},
		{"three dotted parts", "1.2.3", "1.2.3"},
		{"garbage", "unknown", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ipanon.Anonymise(tt.in))
		})
	}
}

func TestAnonymiseProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	octet := gen.IntRange(0, 255)
	segment := gen.IntRange(0, 0xffff)

	properties.Property("ipv4 keeps the first three octets and zeroes the last", prop.ForAll(
		func(a, b, c, d int) bool {
			in := fmt.Sprintf("%d.%d.%d.%d", a, b, c, d)
			return ipanon.Anonymise(in) == fmt.Sprintf("%d.%d.%d.0", a, b, c)
		},
		octet, octet, octet, octet,
	))

	properties.Property("ipv6 zeroes the last two segments", prop.ForAll(
		func(segs []int) bool {
			if len(segs) < 2 {
				return true
			}
			parts := make([]string, len(segs))
			for i, s := range segs {
				parts[i] = fmt.Sprintf("%x", s)
			}
			out := strings.Split(ipanon.Anonymise(strings.Join(parts, ":")), ":")
			if len(out) != len(parts) {
				return false
			}
			for i := 0; i < len(parts)-2; i++ {
				if out[i] != parts[i] {
					return false
				}
			}
			return out[len(out)-1] == "0" && out[len(out)-2] == "0"
		},
		gen.SliceOfN(8, segment),
	))

	properties.Property("anonymising twice is the same as once", prop.ForAll(
		func(a, b, c, d int) bool {
			in := fmt.Sprintf("%d.%d.%d.%d", a, b, c, d)
			once := ipanon.Anonymise(in)
			return ipanon.Anonymise(once) == once
		},
		octet, octet, octet, octet,
	))

	properties.TestingRun(t)
}
