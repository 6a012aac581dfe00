package outlook

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	kauth "github.com/microsoft/kiota-authentication-azure-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// SDK wraps the Graph SDK for the calls that need typed models: the mailbox
// profile and file attachments.
type SDK struct {
	BaseURL string
}

// newClient builds a Graph client that authenticates with an already issued
// access token.
func (s *SDK) newClient(accessToken string) (*msgraphsdk.GraphServiceClient, error) {
	base := s.BaseURL
	if base == "" {
		base = "https://graph.microsoft.com/v1.0"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse graph base url: %w", err)
	}

	cred := &staticTokenCredential{token: accessToken}
	authProvider, err := kauth.NewAzureIdentityAuthenticationProviderWithScopesAndValidHosts(cred, []string{}, []string{u.Hostname()})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth provider: %w", err)
	}
	adapter, err := msgraphsdk.NewGraphRequestAdapter(authProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph adapter: %w", err)
	}
	adapter.SetBaseUrl(base)
	return msgraphsdk.NewGraphServiceClient(adapter), nil
}

// Profile returns the mailbox address of the signed-in user.
func (s *SDK) Profile(ctx context.Context, accessToken string) (string, error) {
	client, err := s.newClient(accessToken)
	if err != nil {
		return "", err
	}
	me, err := client.Me().Get(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get profile: %w", err)
	}
	if mail := me.GetMail(); mail != nil && *mail != "" {
		return *mail, nil
	}
	if upn := me.GetUserPrincipalName(); upn != nil {
		return *upn, nil
	}
	return "", fmt.Errorf("profile has no mail address")
}

// ListAttachments downloads the file attachments of one message.
func (s *SDK) ListAttachments(ctx context.Context, accessToken, account, providerMessageID string) ([]domain.AttachmentFile, error) {
	client, err := s.newClient(accessToken)
	if err != nil {
		return nil, err
	}
	result, err := client.Users().ByUserId(account).Messages().ByMessageId(providerMessageID).Attachments().Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	var files []domain.AttachmentFile
	for _, a := range result.GetValue() {
		fa, ok := a.(models.FileAttachmentable)
		if !ok {
			continue
		}
		file := domain.AttachmentFile{
			ProviderID:  deref(fa.GetId()),
			Name:        deref(fa.GetName()),
			ContentType: deref(fa.GetContentType()),
			Content:     fa.GetContentBytes(),
		}
		if size := fa.GetSize(); size != nil {
			file.Size = int64(*size)
		}
		if inline := fa.GetIsInline(); inline != nil {
			file.Inline = *inline
		}
		files = append(files, file)
	}
	return files, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// staticTokenCredential implements azcore.TokenCredential over a token issued elsewhere.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}
