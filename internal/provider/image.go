package provider

import (
	"context"
	"fmt"
	"strings"

	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// ImageResolver checks an image reference against its registry and returns
// the manifest digest. Used at submission time when registry verification is
// enabled, and by drift checks on the image digest.
type ImageResolver struct {
	PlainHTTP bool
	Username  string
	Password  string
}

// Resolve splits "host/repo:tag" and resolves the tag to a digest. A
// reference without a tag resolves "latest".
func (r *ImageResolver) Resolve(ctx context.Context, imageRef string) (string, error) {
	name, tag := splitReference(imageRef)

	repo, err := remote.NewRepository(name)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", imageRef, err)
	}
	repo.PlainHTTP = r.PlainHTTP
	if r.Username != "" {
		repo.Client = &auth.Client{
			Credential: auth.StaticCredential(repo.Reference.Registry, auth.Credential{
				Username: r.Username,
				Password: r.Password,
			}),
			Cache: auth.NewCache(),
		}
	}

	desc, err := repo.Resolve(ctx, tag)
	if err != nil {
		return "", &ProviderError{Code: "image-unresolvable", Message: err.Error(), Retryable: false}
	}
	return desc.Digest.String(), nil
}

func splitReference(imageRef string) (name, tag string) {
	name, tag = imageRef, "latest"
	if i := strings.LastIndex(imageRef, ":"); i > strings.LastIndex(imageRef, "/") {
		name, tag = imageRef[:i], imageRef[i+1:]
	}
	return name, tag
}
