package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
)

func statusError(code int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
		Err:      errors.New("boom"),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"typed NoSuchKey", &types.NoSuchKey{}, ErrNotFound},
		{"api NotFound", &smithy.GenericAPIError{Code: "NotFound"}, ErrNotFound},
		{"api AccessDenied", &smithy.GenericAPIError{Code: "AccessDenied"}, ErrAccessDenied},
		{"api throttled", &smithy.GenericAPIError{Code: "SlowDown"}, ErrTransient},
		{"http 404", statusError(http.StatusNotFound), ErrNotFound},
		{"http 403", statusError(http.StatusForbidden), ErrAccessDenied},
		{"http 500", statusError(http.StatusInternalServerError), ErrTransient},
		{"fs not exist", fmt.Errorf("open: %w", fs.ErrNotExist), ErrNotFound},
		{"fs permission", fmt.Errorf("open: %w", fs.ErrPermission), ErrAccessDenied},
		{"message 403", errors.New("operation error S3: GetObject, StatusCode: 403, Forbidden"), ErrAccessDenied},
		{"connection reset", errors.New("read tcp: connection reset by peer"), ErrTransient},
		{"deadline", context.DeadlineExceeded, ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, Classify(nil))
	assert.NoError(t, Wrap(nil, "get", "s3://b/k"))
}

func TestObjectError_Is(t *testing.T) {
	err := Wrap(&types.NoSuchKey{}, "get", "s3://b/k")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAccessDenied)
	assert.True(t, IsPermanent(err))

	var nsk *types.NoSuchKey
	assert.ErrorAs(t, err, &nsk, "underlying error preserved")
	assert.Contains(t, err.Error(), "s3://b/k")
}

func TestWrap_KeepsExistingClassification(t *testing.T) {
	inner := &ObjectError{Kind: ErrAccessDenied, Op: "get", URL: "s3://b/k", Err: errors.New("x")}
	outer := fmt.Errorf("outer: %w", inner)

	got := Wrap(outer, "read", "s3://b/k")
	assert.Equal(t, outer, got)
	assert.ErrorIs(t, got, ErrAccessDenied)
}

func TestIsPermanent_Transient(t *testing.T) {
	assert.False(t, IsPermanent(Wrap(errors.New("timeout"), "get", "s3://b/k")))
}
