package payload

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// keyPart matches identifiers that can be joined into a Key without
// ambiguity.
var keyPart = regexp.MustCompile("^[^" + KeySeparator + "]+$")

type ErrorKind string

const (
	KindMalformed      ErrorKind = "malformed"
	KindSchemaMismatch ErrorKind = "schema-mismatch"
	KindBadToken       ErrorKind = "bad-token"
)

// ValidationError classifies why a submission was rejected. Rejected
// submissions are dropped, never retried.
type ValidationError struct {
	Kind ErrorKind
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "payload " + string(e.Kind)
	}
	return fmt.Sprintf("payload %s: %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var errTokenMismatch = errors.New("token does not match")

type rawPayload struct {
	Token       string       `json:"token"`
	Article     rawArticle   `json:"article"`
	Feed        rawFeed      `json:"feed"`
	API         rawRequest   `json:"api"`
	PostActions []PostAction `json:"postActions"`
}

type rawArticle struct {
	ID string `json:"_id"`
}

type rawFeed struct {
	ID      string `json:"_id"`
	URL     string `json:"url"`
	Channel string `json:"channel"`
	GuildID string `json:"guildId"`
}

type rawRequest struct {
	URL    string          `json:"url"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body"`
}

func (p rawPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Token, validation.Required),
		validation.Field(&p.Article),
		validation.Field(&p.Feed),
		validation.Field(&p.API),
		validation.Field(&p.PostActions, validation.Each(validation.By(validPostAction))),
	)
}

func (a rawArticle) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.ID, validation.Required, validation.Match(keyPart).Error("must not contain "+KeySeparator)),
	)
}

func (f rawFeed) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.ID, validation.Required),
		validation.Field(&f.URL, validation.Required),
		validation.Field(&f.Channel, validation.Required, validation.Match(keyPart).Error("must not contain "+KeySeparator)),
	)
}

func (r rawRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.Required, is.URL),
		validation.Field(&r.Method, validation.Required, validation.In(
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
		)),
	)
}

func validPostAction(value interface{}) error {
	a, ok := value.(PostAction)
	if !ok {
		return errors.New("must be a post action")
	}
	if a.Type == "" {
		return errors.New("type cannot be blank")
	}
	return nil
}

// Validator checks submissions against the schema and the shared secret.
type Validator struct {
	token []byte
}

func NewValidator(token string) *Validator {
	return &Validator{token: []byte(token)}
}

func (v *Validator) Validate(raw []byte) (Job, error) {
	if !json.Valid(raw) {
		return Job{}, &ValidationError{Kind: KindMalformed, Err: errors.New("invalid json")}
	}

	var p rawPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Job{}, &ValidationError{Kind: KindSchemaMismatch, Err: err}
	}
	if err := p.Validate(); err != nil {
		return Job{}, &ValidationError{Kind: KindSchemaMismatch, Err: err}
	}

	if len(v.token) == 0 || subtle.ConstantTimeCompare([]byte(p.Token), v.token) != 1 {
		return Job{}, &ValidationError{Kind: KindBadToken, Err: errTokenMismatch}
	}

	return Job{
		Key:  NewKey(p.Feed.Channel, p.Article.ID),
		Kind: KindMessage,
		Article: Article{
			ID: p.Article.ID,
		},
		Feed: Feed{
			ID:      p.Feed.ID,
			URL:     p.Feed.URL,
			Channel: p.Feed.Channel,
			GuildID: p.Feed.GuildID,
		},
		API: Request{
			URL:    p.API.URL,
			Method: p.API.Method,
			Body:   p.API.Body,
		},
		PostActions: p.PostActions,
	}, nil
}
