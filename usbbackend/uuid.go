/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Serial-number UUID normalization, ported from the host stack's uuid.go
 * almost unchanged: Android MTP devices commonly report a UUID-shaped
 * serial-number string descriptor in one of several textual dialects
 * (braces, urn: prefix, mixed case), and DeviceIdentity wants it
 * normalized before it becomes part of a learned-profile fingerprint key.
 */

package usbbackend

import "bytes"

// NormalizeSerialUUID parses s as a UUID in any of the common textual
// dialects and reformats it into the canonical
// xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx form. If s is not a valid UUID, it
// returns the empty string so callers fall back to using the raw serial
// string as-is.
func NormalizeSerialUUID(s string) string {
	var buf [32]byte
	var cnt int

	in := bytes.ToLower([]byte(s))

	if bytes.HasPrefix(in, []byte("urn:")) {
		in = in[4:]
	}
	if bytes.HasPrefix(in, []byte("uuid:")) {
		in = in[5:]
	}

	for len(in) != 0 {
		c := in[0]
		in = in[1:]

		if '0' <= c && c <= '9' || 'a' <= c && c <= 'f' {
			if cnt == 32 {
				return ""
			}
			buf[cnt] = c
			cnt++
		}
	}

	if cnt != 32 {
		return ""
	}

	return string(buf[0:8]) + "-" +
		string(buf[8:12]) + "-" +
		string(buf[12:16]) + "-" +
		string(buf[16:20]) + "-" +
		string(buf[20:32])
}
