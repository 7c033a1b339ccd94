package proxy

// EstimateTokens approximates a token count from raw byte length. Per spec
// §9 this is an explicit placeholder ("byte_length / 4"); swap in a real
// tokenizer if accurate accounting becomes important.
func EstimateTokens(byteLength int) int {
	if byteLength <= 0 {
		return 0
	}
	return (byteLength + 3) / 4
}
