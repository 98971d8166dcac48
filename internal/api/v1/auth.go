package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Xunop/celestial/internal/http/request"
	"github.com/Xunop/celestial/internal/http/response"
	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/util"
	"github.com/Xunop/celestial/internal/validator"
)

const (
	AccessTokenCookieName = "celestial.access-token"
	AccessTokenDuration   = 7 * 24 * time.Hour
	KeyID                 = "v1"
	Issuer                = "celestial"
	adminSubject          = "admin"
)

// Authenticator gates the admin routes behind a bcrypt password and HS256 tokens.
// Without a configured password hash every request is treated as the admin.
type Authenticator struct {
	passwordHash []byte
	secret       []byte
}

func NewAuthenticator(passwordHash, secret string) *Authenticator {
	if secret == "" {
		generated, err := util.RandomString(32)
		if err != nil {
			generated = util.GenUUID()
		}
		secret = generated
	}
	return &Authenticator{passwordHash: []byte(passwordHash), secret: []byte(secret)}
}

// Open reports whether no admin password is configured.
func (a *Authenticator) Open() bool {
	return len(a.passwordHash) == 0
}

// HashPassword returns the bcrypt hash to put in admin_password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "failed to hash password")
	}
	return string(hash), nil
}

// SignIn checks the password and returns a signed access token.
func (a *Authenticator) SignIn(password string, expireTime time.Time) (string, error) {
	if a.Open() {
		return "", errors.New("no admin password is configured")
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", errors.New("invalid password")
	}
	return a.GenerateAccessToken(expireTime)
}

func (a *Authenticator) GenerateAccessToken(expireTime time.Time) (string, error) {
	now := time.Now()
	claims := &jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   adminSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expireTime),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = KeyID
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign access token")
	}
	return signed, nil
}

func (a *Authenticator) authenticate(accessToken string) error {
	if accessToken == "" {
		return errors.New("no access token provided")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Name {
			return nil, errors.New("unexpected signing method")
		}
		if kid, ok := t.Header["kid"].(string); !ok || kid != KeyID {
			return nil, errors.New("unexpected key id")
		}
		return a.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithSubject(adminSubject))
	if err != nil {
		return errors.Wrap(err, "invalid or expired access token")
	}
	return nil
}

func (a *Authenticator) AuthenticationInterceptor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := request.FindClientIP(r)
		ctx := context.WithValue(r.Context(), request.ClientIPContextKey, clientIP)

		admin := a.Open()
		if !admin {
			if token := getAccessToken(r); token != "" {
				if err := a.authenticate(token); err != nil {
					log.Debug("Failed to authenticate admin",
						zap.String("client_ip", clientIP),
						zap.String("user_agent", r.UserAgent()),
						zap.Error(err),
					)
				} else {
					admin = true
				}
			}
		}
		ctx = context.WithValue(ctx, request.IsAdminContextKey, admin)
		r = r.WithContext(ctx)

		if route := mux.CurrentRoute(r); route != nil && isOnlyForAdminAllowedRoute(route.GetName()) && !admin {
			response.Unauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func getAccessToken(r *http.Request) string {
	// Check the HTTP Authorization header first
	authorizationHeaders := r.Header.Get("Authorization")
	if authorizationHeaders != "" {
		splitToken := strings.Split(authorizationHeaders, "Bearer ")
		if len(splitToken) == 2 {
			return splitToken[1]
		}
	}

	if cookie, err := r.Cookie(AccessTokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

type signInRequest struct {
	Password    string `json:"password"`
	NeverExpire bool   `json:"never_expire"`
}

type signInResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	var signin signInRequest
	if err := json.NewDecoder(r.Body).Decode(&signin); err != nil {
		log.Error("Failed to decode request body", zap.Error(err))
		response.BadRequest(w, r, err)
		return
	}
	if err := validator.ValidateSignInRequest(signin.Password); err != nil {
		response.Error(w, r, err)
		return
	}

	expireTime := time.Now().Add(AccessTokenDuration)
	if signin.NeverExpire {
		// Set the expire time to 100 years.
		expireTime = time.Now().Add(100 * 365 * 24 * time.Hour)
	}
	accessToken, err := h.auth.SignIn(signin.Password, expireTime)
	if err != nil {
		log.Warn("Failed to sign in", zap.String("client_ip", request.ClientIP(r)), zap.Error(err))
		response.Unauthorized(w, r)
		return
	}

	w.Header().Set("Set-Cookie", buildAccessTokenCookie(accessToken, expireTime, r.Header.Get("Origin")))
	response.OK(w, r, signInResponse{AccessToken: accessToken, ExpiresAt: expireTime})
}

func buildAccessTokenCookie(accessToken string, expireTime time.Time, origin string) string {
	attrs := []string{
		fmt.Sprintf("%s=%s", AccessTokenCookieName, accessToken),
		"Path=/",
		"HttpOnly",
	}
	if expireTime.IsZero() {
		attrs = append(attrs, "Expires=Thu, 01 Jan 1970 00:00:00 GMT")
	} else {
		attrs = append(attrs, "Expires="+expireTime.UTC().Format(http.TimeFormat))
	}

	if strings.HasPrefix(origin, "https://") {
		attrs = append(attrs, "Secure")
		attrs = append(attrs, "SameSite=None")
	} else {
		attrs = append(attrs, "SameSite=Lax")
	}
	return strings.Join(attrs, "; ")
}
