package types

// Config holds the subset of relay configuration that is core state (as
// opposed to host bootstrap configuration, which lives outside Storage —
// see SPEC_FULL.md §10). It backs update_config/get_config (§6).
type Config struct {
	KeyName              string `codec:"key_name"`
	SignerIntervalSecs   uint64 `codec:"signer_interval_secs"`
	WriterIntervalSecs   uint64 `codec:"writer_interval_secs"`
	CheckerIntervalSecs  uint64 `codec:"checker_interval_secs"`
}

func DefaultConfig() Config {
	return Config{
		KeyName:             "ccmp_relay_key_1",
		SignerIntervalSecs:  5,
		WriterIntervalSecs:  5,
		CheckerIntervalSecs: 10,
	}
}
