package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aliyun/alibaba-cloud-sdk-go/sdk"
	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/requests"
	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/responses"
	"github.com/rs/zerolog/log"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/models"
)

const tokenAPIVersion = "2019-07-17"

// Token is an NLS access token and the moment it stops being accepted.
type Token struct {
	ID         string
	ExpireTime time.Time
}

type TokenSource interface {
	Token(ctx context.Context) (Token, error)
}

// Invalidator is implemented by token sources that hold on to a token between calls.
type Invalidator interface {
	Invalidate()
}

var _ Invalidator = (*CachedTokenSource)(nil)

type commonRequester interface {
	ProcessCommonRequest(request *requests.CommonRequest) (*responses.CommonResponse, error)
}

// AliyunTokenSource calls CreateToken on the NLS meta service.
type AliyunTokenSource struct {
	client commonRequester
	domain string
}

func NewAliyunTokenSource(aliyun *config.AliyunConfig, speech *config.SpeechConfig) (*AliyunTokenSource, error) {
	client, err := sdk.NewClientWithAccessKey(speech.Region, aliyun.AccessKeyID, aliyun.AccessKeySecret)
	if err != nil {
		return nil, models.NewError(models.KindAuthFailure, "speech.NewAliyunTokenSource", err)
	}
	domain := speech.TokenDomain
	if domain == "" {
		domain = fmt.Sprintf("nlsmeta.%s.aliyuncs.com", speech.Region)
	}
	return &AliyunTokenSource{client: client, domain: domain}, nil
}

func newTokenRequest(domain string) *requests.CommonRequest {
	request := requests.NewCommonRequest()
	request.Method = "POST"
	request.Domain = domain
	request.Version = tokenAPIVersion
	request.ApiName = "CreateToken"
	return request
}

func (s *AliyunTokenSource) Token(ctx context.Context) (Token, error) {
	const op = "speech.CreateToken"
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}

	response, err := s.client.ProcessCommonRequest(newTokenRequest(s.domain))
	if err != nil {
		return Token{}, models.NewError(models.KindAuthFailure, op, err)
	}
	if !response.IsSuccess() {
		return Token{}, models.Errorf(models.KindAuthFailure, op, "CreateToken returned HTTP %d: %s", response.GetHttpStatus(), response.GetHttpContentString())
	}
	return parseTokenResponse(response.GetHttpContentBytes())
}

func parseTokenResponse(body []byte) (Token, error) {
	const op = "speech.CreateToken"
	var payload struct {
		Token struct {
			ID         string `json:"Id"`
			ExpireTime int64  `json:"ExpireTime"`
		} `json:"Token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Token{}, models.NewError(models.KindMalformedResponse, op, err)
	}
	if payload.Token.ID == "" {
		return Token{}, models.Errorf(models.KindAuthFailure, op, "no token in response: %s", body)
	}
	return Token{ID: payload.Token.ID, ExpireTime: time.Unix(payload.Token.ExpireTime, 0)}, nil
}

// CachedTokenSource hands out the cached token until it comes within margin of
// expiring, then fetches a new one.
type CachedTokenSource struct {
	mu     sync.Mutex
	src    TokenSource
	margin time.Duration
	now    func() time.Time
	token  Token
}

func NewCachedTokenSource(src TokenSource, margin time.Duration) *CachedTokenSource {
	return &CachedTokenSource{src: src, margin: margin, now: time.Now}
}

func (c *CachedTokenSource) Token(ctx context.Context) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid() {
		return c.token, nil
	}
	token, err := c.src.Token(ctx)
	if err != nil {
		return Token{}, err
	}
	log.Debug().Time("expires", token.ExpireTime).Msg("Obtained speech token")
	c.token = token
	return token, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (c *CachedTokenSource) Invalidate() {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
}

func (c *CachedTokenSource) valid() bool {
	return c.token.ID != "" && c.now().Add(c.margin).Before(c.token.ExpireTime)
}
