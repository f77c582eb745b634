package queue

import "testing"

func TestDispatchMessageValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     DispatchMessage
		wantErr bool
	}{
		{
			name: "valid",
			msg:  DispatchMessage{AttemptID: "a-1", TrackingID: "tok-1"},
		},
		{
			name:    "missing attempt id",
			msg:     DispatchMessage{TrackingID: "tok-1"},
			wantErr: true,
		},
		{
			name:    "missing tracking id",
			msg:     DispatchMessage{AttemptID: "a-1"},
			wantErr: true,
		},
		{
			name:    "whitespace only",
			msg:     DispatchMessage{AttemptID: "  ", TrackingID: "tok-1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.msg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}
