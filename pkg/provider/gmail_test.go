package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestClassify_AuthExpired(t *testing.T) {
	err := classify(&googleapi.Error{Code: 401, Message: "Invalid Credentials"}, false)
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestClassify_Forbidden(t *testing.T) {
	err := classify(&googleapi.Error{Code: 403, Message: "insufficient scopes"}, true)
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestClassify_NotFoundDependsOnContext(t *testing.T) {
	// A 404 from a history listing means the cursor fell off the retention
	// horizon; a 404 from a message fetch means the message is gone.
	err := classify(&googleapi.Error{Code: 404}, true)
	assert.ErrorIs(t, err, ErrStaleCursor)

	err = classify(&googleapi.Error{Code: 404}, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClassify_InvalidGrant(t *testing.T) {
	err := classify(errors.New(`oauth2: "invalid_grant" token revoked`), false)
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestClassify_PassThrough(t *testing.T) {
	cause := errors.New("connection reset")
	err := classify(cause, false)
	assert.Equal(t, cause, err)

	assert.NoError(t, classify(nil, true))
}
