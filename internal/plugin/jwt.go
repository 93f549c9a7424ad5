package plugin

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// jwtAuth verifies bearer tokens and attaches the consumer identity.
type jwtAuth struct {
	Base
	headerNames    []string
	secret         []byte
	algorithm      string
	claimsToVerify []string
	anonymous      string
	logger         *zap.Logger
}

func newJWTAuth(opts Options, logger *zap.Logger) (Plugin, error) {
	secret := opts.String("secret", "")
	if secret == "" {
		return nil, fmt.Errorf("secret is required")
	}

	algorithm := opts.String("algorithm", "HS256")
	switch algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}

	headerNames := opts.StringSlice("header_names")
	if len(headerNames) == 0 {
		headerNames = []string{"Authorization"}
	}

	return &jwtAuth{
		Base:           Base{PluginName: "jwt-auth"},
		headerNames:    headerNames,
		secret:         []byte(secret),
		algorithm:      algorithm,
		claimsToVerify: opts.StringSlice("claims_to_verify"),
		anonymous:      opts.String("anonymous", ""),
		logger:         logger,
	}, nil
}

func (p *jwtAuth) Access(ctx *Context) error {
	tokenString := p.extractToken(ctx.Request)
	if tokenString == "" {
		if p.anonymous != "" {
			ctx.Consumer = &Consumer{Username: p.anonymous}
			return nil
		}
		ctx.Reject(http.StatusUnauthorized, "authentication required")
		return nil
	}

	parseOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{p.algorithm})}
	for _, claim := range p.claimsToVerify {
		if claim == "exp" {
			parseOpts = append(parseOpts, jwt.WithExpirationRequired())
		}
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, parseOpts...)

	if err != nil || !token.Valid {
		p.logger.Debug("token rejected", zap.Error(err))
		ctx.Reject(http.StatusUnauthorized, "invalid token")
		return nil
	}

	for _, claim := range p.claimsToVerify {
		if _, ok := claims[claim]; !ok {
			ctx.Reject(http.StatusUnauthorized, "missing required claim: "+claim)
			return nil
		}
	}

	consumer := &Consumer{}
	if sub, err := claims.GetSubject(); err == nil {
		consumer.UserID = sub
	}
	ctx.Consumer = consumer
	ctx.Credential = tokenString

	if consumer.UserID != "" {
		ctx.Request.Header.Set("X-User-ID", consumer.UserID)
	}
	return nil
}

func (p *jwtAuth) extractToken(r *http.Request) string {
	for _, name := range p.headerNames {
		value := r.Header.Get(name)
		if value == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(value, "Bearer "); ok {
			return rest
		}
		return value
	}
	return ""
}
