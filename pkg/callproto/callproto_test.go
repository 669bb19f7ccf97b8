package callproto_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Askhat-cmd/voxturn/pkg/callproto"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   string
		check   func(t *testing.T, m callproto.Message)
		wantErr error
	}{
		{
			name:  "call accepted",
			frame: `{"type":"call.accepted","call_id":"c1","caller_id":"+7999","capabilities":{"capture_started":true,"interim_result":false,"capture_stopped":true}}`,
			check: func(t *testing.T, m callproto.Message) {
				if m.CallerID != "+7999" || m.CallID != "c1" {
					t.Errorf("ids = %q/%q", m.CallID, m.CallerID)
				}
				if m.Capabilities == nil || !m.Capabilities.CaptureStarted || m.Capabilities.InterimResult {
					t.Errorf("capabilities = %+v", m.Capabilities)
				}
			},
		},
		{
			name:  "partial",
			frame: `{"type":"asr.partial","text":"нужно измерить"}`,
			check: func(t *testing.T, m callproto.Message) {
				if m.Type != callproto.TypeASRPartial || m.Text != "нужно измерить" {
					t.Errorf("message = %+v", m)
				}
			},
		},
		{
			name:  "playback event",
			frame: `{"type":"playback.event","playback_id":"p1","event":"finished"}`,
			check: func(t *testing.T, m callproto.Message) {
				if m.PlaybackID != "p1" || m.Event != callproto.EventFinished {
					t.Errorf("message = %+v", m)
				}
			},
		},
		{
			name:  "unknown fields tolerated",
			frame: `{"type":"asr.capture_started","confidence":0.4}`,
			check: func(t *testing.T, m callproto.Message) {
				if m.Type != callproto.TypeCaptureStarted {
					t.Errorf("type = %q", m.Type)
				}
			},
		},
		{name: "missing type", frame: `{"text":"hi"}`, wantErr: callproto.ErrMissingType},
		{name: "not json", frame: `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := callproto.Decode([]byte(tt.frame))
			if tt.check == nil {
				if err == nil {
					t.Fatal("expected error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tt.check(t, m)
		})
	}
}

func TestEncode_OmitsUnrelatedFields(t *testing.T) {
	t.Parallel()

	data, err := callproto.Encode(callproto.PlaybackStop("p7"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(raw) != 2 || raw["type"] != "playback.stop" || raw["playback_id"] != "p7" {
		t.Errorf("frame = %s", data)
	}

	if _, err := callproto.Encode(callproto.Message{}); !errors.Is(err, callproto.ErrMissingType) {
		t.Errorf("Encode without type error = %v", err)
	}
}

func TestSessionReady(t *testing.T) {
	t.Parallel()

	m := callproto.SessionReady("s1", []string{"кН", "МПа"}, callproto.Voice{Name: "alena", Language: "ru-RU"})
	data, err := callproto.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := callproto.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SessionID != "s1" || len(got.PhraseHints) != 2 || got.Voice == nil || got.Voice.Name != "alena" {
		t.Errorf("decoded = %+v", got)
	}
}
