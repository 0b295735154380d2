package mailbox

import "testing"

func TestBuildKey(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		tenant   string
		ticket   string
		message  string
		sourceTS string
		want     string
	}{
		{
			name:     "all fields present",
			kind:     "NewTicket",
			tenant:   "1",
			ticket:   "55",
			message:  "m9",
			sourceTS: "1700000000",
			want:     "NewTicket|1|55|m9|1700000000",
		},
		{
			name:   "missing fields become placeholders",
			kind:   "NewTicket",
			tenant: "1",
			ticket: "55",
			want:   "NewTicket|1|55|-|-",
		},
		{
			name: "all fields missing",
			want: "-|-|-|-|-",
		},
		{
			name:    "whitespace counts as missing",
			kind:    "CloseTicket",
			tenant:  "  ",
			ticket:  "7",
			message: "\t",
			want:    "CloseTicket|-|7|-|-",
		},
		{
			name:   "separator inside a field is sanitized",
			kind:   "NewTicket",
			tenant: "1|55",
			ticket: "9",
			want:   "NewTicket|1_55|9|-|-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildKey(tt.kind, tt.tenant, tt.ticket, tt.message, tt.sourceTS)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBuildKeyDistinguishesMissingFields(t *testing.T) {
	// A sanitized tenant must not alias a key where the ticket field moved.
	a := BuildKey("NewTicket", "1|55", "9", "", "")
	b := BuildKey("NewTicket", "1", "55", "9", "")
	if a == b {
		t.Errorf("sanitized key %q must differ from %q", a, b)
	}

	// Same missing fields, same rest: equal keys.
	c := BuildKey("NewTicket", "1", "55", "", "")
	d := BuildKey("NewTicket", "1", "55", "", "")
	if c != d {
		t.Errorf("expected identical keys, got %q and %q", c, d)
	}
}
