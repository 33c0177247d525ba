package ports

// CredentialPrompter asks the operator for a secret that is not available
// from the environment or the keyring.
type CredentialPrompter interface {
	// PromptSecret shows title and description and returns the entered
	// value. The input must not be echoed.
	PromptSecret(title, description string) (string, error)
}
