package config

import "testing"

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {"urls": ["stun:stun.example.com:3478"]},
	  {"urls": ["turn:turn.example.com:3478?transport=udp"], "username": "user", "credential": "pass"}
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if got := servers[1].Username; got != "user" {
		t.Fatalf("unexpected username: %q", got)
	}
	cred, ok := servers[1].Credential.(string)
	if !ok || cred != "pass" {
		t.Fatalf("unexpected credential: %#v", servers[1].Credential)
	}
}

func TestParseICEServersJSON_SingleStringURLs(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersJSON(`[{"urls": " stun:stun.example.com:3478 "}]`)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected urls: %#v", got)
	}
}

func TestParseICEServersJSON_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"malformed json":         `[{"urls":`,
		"turn without creds":     `[{"urls": ["turn:turn.example.com:3478"]}]`,
		"turn without password":  `[{"urls": ["turns:turn.example.com:5349"], "username": "u"}]`,
		"unsupported scheme":     `[{"urls": ["https://turn.example.com"]}]`,
		"missing urls":           `[{"username": "u"}]`,
		"only blank urls":        `[{"urls": ["  "]}]`,
		"urls of the wrong type": `[{"urls": 3}]`,
	}
	for name, raw := range tests {
		raw := raw
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseICEServersJSON(raw); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseICEServerURLs(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServerURLs(
		"stun:a.example:3478, stun:b.example:3478",
		"turn:t.example:3478?transport=udp,turns:t.example:5349",
		"user", "secret",
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 2 || got[1] != "stun:b.example:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if got := servers[1].URLs; len(got) != 2 {
		t.Fatalf("unexpected turn urls: %#v", got)
	}
	if servers[1].Username != "user" || servers[1].Credential != "secret" {
		t.Fatalf("unexpected turn credentials: %q / %#v", servers[1].Username, servers[1].Credential)
	}
}

func TestParseICEServerURLs_TURNRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := ParseICEServerURLs("", "turn:t.example:3478", "user", ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseICEServerURLs_Empty(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServerURLs(" ", "", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(servers) != 0 {
		t.Fatalf("expected no servers, got %d", len(servers))
	}
}

func TestConfigICEServers_JSONTakesPrecedence(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		ICEServersJSON: `[{"urls": "stun:json.example:3478"}]`,
		STUNURLs:       "stun:env.example:3478",
	}
	servers, err := cfg.ICEServers()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example:3478" {
		t.Fatalf("expected JSON servers, got %#v", servers)
	}
}
