/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * NormalizeSerialUUID test, ported from the host stack's uuid_test.go
 */

package usbbackend

import "testing"

var testDataSerialUUID = []struct{ in, out string }{
	{"01234567-89ab-cdef-0123-456789abcdef", "01234567-89ab-cdef-0123-456789abcdef"},
	{"01234567-89ab-cdef-0123-456789abcde", ""},
	{"01234567-89ab-cdef-0123-456789abcdef0", ""},
	{"urn:01234567-89ab-cdef-0123-456789abcdef", "01234567-89ab-cdef-0123-456789abcdef"},
	{"urn:uuid:01234567-89ab-cdef-0123-456789abcdef", "01234567-89ab-cdef-0123-456789abcdef"},
	{"0123456789abcdef0123456789abcdef", "01234567-89ab-cdef-0123-456789abcdef"},
	{"{0123456789abcdef0123456789abcdef}", "01234567-89ab-cdef-0123-456789abcdef"},
}

func TestNormalizeSerialUUID(t *testing.T) {
	for _, data := range testDataSerialUUID {
		got := NormalizeSerialUUID(data.in)
		if got != data.out {
			t.Errorf("NormalizeSerialUUID(%q): expected %q, got %q", data.in, data.out, got)
		}
	}
}
