package crypto_test

import (
	"fmt"

	"github.com/TheMichaelB/keyvault/internal/crypto"
)

func ExampleDeriveKey() {
	salt := make([]byte, crypto.SaltSize)

	k1, err := crypto.DeriveKey("mypassword", salt)
	if err != nil {
		panic(err)
	}
	defer k1.Destroy()

	k2, err := crypto.DeriveKey("mypassword", salt)
	if err != nil {
		panic(err)
	}
	defer k2.Destroy()

	fmt.Println("Same key:", k1.Equal(k2))
	// Output: Same key: true
}

func ExampleProvider_Decrypt() {
	provider := crypto.NewProvider()

	key, err := provider.DeriveKey("mypassword", make([]byte, crypto.SaltSize))
	if err != nil {
		panic(err)
	}
	defer key.Destroy()

	ciphertext, err := provider.Encrypt(key, []byte("Hello, World!"))
	if err != nil {
		fmt.Printf("Encryption failed: %v\n", err)
		return
	}

	decrypted, err := provider.Decrypt(key, ciphertext)
	if err != nil {
		fmt.Printf("Decryption failed: %v\n", err)
		return
	}

	fmt.Printf("Decrypted: %s\n", decrypted)
	// Output: Decrypted: Hello, World!
}

func ExampleEncryptData() {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i % 256)
	}

	ciphertext, err := crypto.EncryptData([]byte("secret"), key)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Overhead: %d bytes\n", len(ciphertext)-len("secret"))
	// Output: Overhead: 28 bytes
}
