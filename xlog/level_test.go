package xlog

import "testing"

func TestParseLevel(t *testing.T) {
	type testData struct {
		in      string
		want    LogLevel
		wantErr bool
	}

	tests := []testData{
		{"", 0, false},
		{"error", LogError, false},
		{"info", LogInfo | LogError, false},
		{"debug", LogDebug | LogInfo | LogError, false},
		{"trace-usb", LogTraceUSB | LogDebug | LogInfo | LogError, false},
		{"trace-usb,trace-txn", LogTraceUSB | LogTraceTxn | LogDebug | LogInfo | LogError, false},
		{"all", LogAll, false},
		{" debug , error ", LogDebug | LogInfo | LogError, false},
		{"bogus", 0, true},
	}

	for _, test := range tests {
		got, err := ParseLevel(test.in)
		if test.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q): expected error, got none", test.in)
			}
			continue
		}

		if err != nil {
			t.Errorf("ParseLevel(%q): unexpected error: %s", test.in, err)
			continue
		}

		if got != test.want {
			t.Errorf("ParseLevel(%q) = %#x, want %#x", test.in, got, test.want)
		}
	}
}
