package testdata

// TestVector contains fixed inputs for deterministic crypto tests.
type TestVector struct {
	Name      string
	Password  string
	Salt      string // Hex, 16 bytes
	Plaintext string
}

// Vectors contains test vectors for crypto operations.
var Vectors = []TestVector{
	{
		Name:      "ascii password",
		Password:  "correct horse battery staple",
		Salt:      "000102030405060708090a0b0c0d0e0f",
		Plaintext: `{"version":"1.0","entries":[]}`,
	},
	{
		Name:      "unicode password",
		Password:  "пароль-密码-🔑",
		Salt:      "f0e1d2c3b4a5968778695a4b3c2d1e0f",
		Plaintext: `{"version":"1.0","entries":[{"title":"Привет"}]}`,
	},
	{
		Name:      "empty password",
		Password:  "",
		Salt:      "ffffffffffffffffffffffffffffffff",
		Plaintext: "",
	},
}
