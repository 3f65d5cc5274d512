package plist

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestXMLRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
	}{
		{"null", Null{}},
		{"bool", Bool(true)},
		{"int", Integer(-42)},
		{"real", Real(29.446998)},
		{"string", String("Main Theater")},
		{"string needing escapes", String(`a<b&c>"d'e`)},
		{"string unicode", String("héllo ☃")},
		{"data", Data{0x00, 0x01, 0xfe, 0xff}},
		{"date", Date(time.Date(2024, 5, 1, 12, 30, 15, 0, time.UTC))},
		{"date subsecond", Date(time.Date(2024, 5, 1, 12, 30, 15, 250000000, time.UTC))},
		{"array", Array{Integer(1), String("two"), Bool(false)}},
		{"empty array", Array{}},
		{"empty dict", NewDict()},
		{"nested", NewDict().
			Set("duration", Real(1801.5)).
			Set("loadedTimeRanges", Array{NewDict().Set("start", Real(0)).Set("duration", Real(35.0))}).
			Set("readyToPlay", Bool(true)).
			Set("uuid", String("F0123-BC"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodeXML(tt.v)
			if err != nil {
				t.Fatalf("EncodeXML: %v", err)
			}
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode: %v\n%s", err, raw)
			}
			if !Equal(got, tt.v) {
				t.Errorf("round trip = %#v, want %#v\n%s", got, tt.v, raw)
			}
		})
	}
}

func TestEncodeXMLShape(t *testing.T) {
	raw, err := EncodeXML(NewDict().Set("state", String("playing")))
	if err != nil {
		t.Fatalf("EncodeXML: %v", err)
	}
	out := string(raw)
	if !strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Errorf("missing xml declaration:\n%s", out)
	}
	if !strings.Contains(out, `<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN"`) {
		t.Errorf("missing doctype:\n%s", out)
	}
	if !strings.Contains(out, "<key>state</key>") || !strings.Contains(out, "<string>playing</string>") {
		t.Errorf("missing dict entry:\n%s", out)
	}
	if !strings.HasSuffix(out, "</plist>\n") {
		t.Errorf("missing closing plist tag:\n%s", out)
	}
}

// A server-info response as a device formats it.
const serverInfoXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
 <key>deviceid</key>
 <string>58:55:CA:1A:E2:88</string>
 <key>features</key>
 <integer>14839</integer>
 <key>model</key>
 <string>AppleTV2,1</string>
 <key>protovers</key>
 <string>1.0</string>
 <key>srcvers</key>
 <string>101.28</string>
</dict>
</plist>
`

func TestDecodeXMLServerInfo(t *testing.T) {
	v, err := Decode([]byte(serverInfoXML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d, ok := v.(*Dict)
	if !ok {
		t.Fatalf("Decode = %T, want *Dict", v)
	}
	if model, _ := d.GetString("model"); model != "AppleTV2,1" {
		t.Errorf("model = %q, want AppleTV2,1", model)
	}
	if features, _ := d.GetInt("features"); features != 14839 {
		t.Errorf("features = %d, want 14839", features)
	}
	if got := d.Len(); got != 5 {
		t.Errorf("Len = %d, want 5", got)
	}
}

func TestDecodeXMLDataWhitespace(t *testing.T) {
	v, err := Decode([]byte("<data>aGVs\n\tbG8=</data>"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal([]byte(v.(Data)), []byte("hello")) {
		t.Errorf("Decode = %q, want hello", v)
	}
}

func TestDecodeXMLWithoutWrapper(t *testing.T) {
	v, err := Decode([]byte("<dict><key>a</key><integer>1</integer></dict>"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := NewDict().Set("a", Integer(1))
	if !Equal(v, want) {
		t.Errorf("Decode = %#v, want %#v", v, want)
	}
}

func TestDecodeXMLMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"unknown element", "<plist><bogus/></plist>"},
		{"empty plist", "<plist></plist>"},
		{"bad integer", "<integer>twelve</integer>"},
		{"bad real", "<real>fast</real>"},
		{"bad base64", "<data>!!!</data>"},
		{"bad date", "<date>yesterday</date>"},
		{"key without value", "<dict><key>k</key></dict>"},
		{"value without key", "<dict><integer>1</integer></dict>"},
		{"stray text in dict", "<dict>loose</dict>"},
		{"unterminated", "<dict><key>k</key><string>v</string>"},
		{"not xml", "{json: true}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode([]byte(tt.in))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("Decode = %#v, err %v; want ErrMalformed", v, err)
			}
		})
	}
}
