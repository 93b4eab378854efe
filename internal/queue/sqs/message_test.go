package sqsqueue

import "testing"

func TestParseMessage(t *testing.T) {
	m, err := ParseMessage([]byte(`{"tenantId":"acme","eventId":"evt_1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.TenantID != "acme" || m.EventID != "evt_1" {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestParseMessageInvalid(t *testing.T) {
	cases := []string{
		`{"tenantId":"acme"}`,
		`{"eventId":"evt_1"}`,
		`{}`,
		`not json`,
		`{"tenantId":"","eventId":"evt_1"}`,
	}
	for _, body := range cases {
		if _, err := ParseMessage([]byte(body)); err == nil {
			t.Errorf("expected error for body %q", body)
		}
	}
}
