package cli

import (
	"fmt"
	"strings"

	"github.com/vburojevic/beacon/internal/credential"
	"github.com/vburojevic/beacon/internal/output"
	"github.com/vburojevic/beacon/internal/telemetry"
)

// TokenCmd groups bearer token subcommands
type TokenCmd struct {
	Set   TokenSetCmd   `cmd:"" help:"Store a bearer token"`
	Show  TokenShowCmd  `cmd:"" help:"Show whether a token is stored (masked)"`
	Clear TokenClearCmd `cmd:"" help:"Remove the stored token"`
}

// TokenOutput is the NDJSON record for token commands
type TokenOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Action        string `json:"action"`
	Key           string `json:"key"`
	Present       bool   `json:"present"`
	Masked        string `json:"masked,omitempty"`
}

func openTokenStore(globals *Globals) (credential.Store, string, error) {
	store, err := telemetry.OpenStore(globals.Config.Credentials)
	if err != nil {
		return nil, "", outputErrorCommon(globals, "CREDENTIAL_STORE_FAILED", err.Error(), "check credentials.store and credentials.path")
	}
	return store, tokenKey(globals.Config.Credentials.Key), nil
}

func tokenKey(key string) string {
	if key == "" {
		return credential.DefaultKey
	}
	return key
}

// TokenSetCmd writes a token
type TokenSetCmd struct {
	Value string `arg:"" help:"Bearer token value"`
}

// Run executes the token set command
func (c *TokenSetCmd) Run(globals *Globals) error {
	value := strings.TrimSpace(c.Value)
	if value == "" {
		return outputErrorCommon(globals, "INVALID_TOKEN", "token must not be empty")
	}
	store, key, err := openTokenStore(globals)
	if err != nil {
		return err
	}
	if err := store.SetItem(key, value); err != nil {
		return outputErrorCommon(globals, "CREDENTIAL_WRITE_FAILED", err.Error())
	}
	return writeToken(globals, "set", key, value)
}

// TokenShowCmd reports the stored token without revealing it
type TokenShowCmd struct{}

// Run executes the token show command
func (c *TokenShowCmd) Run(globals *Globals) error {
	store, key, err := openTokenStore(globals)
	if err != nil {
		return err
	}
	value, err := store.GetItem(key)
	if err != nil {
		return outputErrorCommon(globals, "CREDENTIAL_READ_FAILED", err.Error())
	}
	return writeToken(globals, "show", key, value)
}

// TokenClearCmd removes the token
type TokenClearCmd struct{}

// Run executes the token clear command
func (c *TokenClearCmd) Run(globals *Globals) error {
	store, key, err := openTokenStore(globals)
	if err != nil {
		return err
	}
	if err := store.RemoveItem(key); err != nil {
		return outputErrorCommon(globals, "CREDENTIAL_WRITE_FAILED", err.Error())
	}
	return writeToken(globals, "clear", key, "")
}

func writeToken(globals *Globals, action, key, value string) error {
	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).Write(TokenOutput{
			Type:          "token",
			SchemaVersion: output.SchemaVersion,
			Action:        action,
			Key:           key,
			Present:       value != "",
			Masked:        maskToken(value),
		})
	}
	if value == "" {
		fmt.Fprintf(globals.Stdout, "%s: no token stored\n", key)
		return nil
	}
	fmt.Fprintf(globals.Stdout, "%s: %s\n", key, maskToken(value))
	return nil
}

// maskToken keeps the last four characters of tokens long enough to stay unguessable
func maskToken(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
