package cryptoutils

// AlgorithmAES256GCM tags payloads produced by this provider.
const AlgorithmAES256GCM = "AES-256-GCM"

// EncryptedPayload is the immutable result of one encryption. Ciphertext
// includes the 128-bit GCM authentication tag. The byte fields travel as
// base64 in JSON.
type EncryptedPayload struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"algorithm"`
}
