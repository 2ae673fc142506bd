package translate

import "github.com/google/uuid"

// randomSuffix backs the synthesized message id fallback when neither a
// foreign completion id nor a caller-supplied id is available.
func randomSuffix() string {
	return uuid.NewString()
}
