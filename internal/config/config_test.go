package config

import "testing"

func fakeLookup(env map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func TestExpand(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		env     map[string]string
		want    string
		wantErr bool
	}{
		{name: "plain string", input: "us-east-1", want: "us-east-1"},
		{name: "resolved var", input: "${REGION}", env: map[string]string{"REGION": "us-west-2"}, want: "us-west-2"},
		{name: "default used when unset", input: "${REGION:-us-east-1}", want: "us-east-1"},
		{name: "default ignored when set", input: "${REGION:-us-east-1}", env: map[string]string{"REGION": "eu-west-1"}, want: "eu-west-1"},
		{name: "mixed literal and reference", input: "s3://${BUCKET}/splits", env: map[string]string{"BUCKET": "my-bucket"}, want: "s3://my-bucket/splits"},
		{name: "default may be empty", input: "${ENDPOINT:-}", want: ""},
		{name: "unresolved with no default is an error", input: "${MISSING}", wantErr: true},
		{name: "literal dollar sign passed through", input: "$5 and ${VAR:-ok}", want: "$5 and ok"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Expand(tc.input, fakeLookup(tc.env))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expand: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Expand(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestExpandUnterminatedReference(t *testing.T) {
	if _, err := Expand("${REGION", fakeLookup(nil)); err == nil {
		t.Fatal("expected error for unterminated reference")
	}
}
