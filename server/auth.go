package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/ndvserve/ndv/ndv"
	"github.com/zenazn/goji/web"
)

// global authorization list of user -> privilege.
var (
	authorizedUsers map[string]string
	authMu          sync.RWMutex
)

// authConfig holds the secret for signing tokens and the file of user privileges.
type authConfig struct {
	AuthFile  string `toml:"auth_file"`
	SecretKey string `toml:"secret_key"`
}

// AuthEnabled returns true if requests require a JWT.
func AuthEnabled() bool {
	return tc.Auth.SecretKey != "" && tc.Auth.AuthFile != ""
}

// generateJWT returns a JWT given a user and secret key string
func generateJWT(user string) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["user"] = user

	tokenString, err := token.SignedString([]byte(tc.Auth.SecretKey))
	if err != nil {
		return "", fmt.Errorf("error with JWT signing: %v", err)
	}
	return tokenString, nil
}

// open routes don't need a token.
var openPaths = map[string]struct{}{
	WebAPIPath + "help":         {},
	WebAPIPath + "engines":      {},
	WebAPIPath + "server/info":  {},
	WebAPIPath + "server/token": {},
}

// isAuthorized is middleware that validates a JWT and sets the c.Env["user"] field
// to the authenticated user.
func isAuthorized(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		if !AuthEnabled() {
			h.ServeHTTP(w, r)
			return
		}
		if _, open := openPaths[r.URL.Path]; open || r.Method == http.MethodOptions {
			h.ServeHTTP(w, r)
			return
		}
		reqToken := r.Header.Get("Authorization")
		if len(reqToken) == 0 {
			Unauthorized(w, r, "JWT required via Authorization in request header")
			return
		}
		splitToken := strings.Split(reqToken, "Bearer")
		if len(splitToken) != 2 {
			Unauthorized(w, r, "bearer not in proper format")
			return
		}
		reqToken = strings.TrimSpace(splitToken[1])
		if len(reqToken) == 0 {
			Unauthorized(w, r, "requests require JWT authentication")
			return
		}
		token, err := jwt.Parse(reqToken, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("error signing method: %v", token.Header["alg"])
			}
			return []byte(tc.Auth.SecretKey), nil
		})
		if err != nil {
			Unauthorized(w, r, "error parsing JWT: %v", err)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			Unauthorized(w, r, "failed authorization")
			return
		}
		user, ok := claims["user"].(string)
		if !ok {
			Unauthorized(w, r, "user %v is not a simple string", claims["user"])
			return
		}
		c.Env["user"] = user
		if !globalIsAuthorized(user, r.Method) {
			Forbidden(w, r, "user %q is not authorized", user)
			return
		}
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func loadAuthFile() error {
	authMu.Lock()
	defer authMu.Unlock()
	authorizedUsers = nil
	if len(tc.Auth.AuthFile) == 0 {
		ndv.Infof("No authorization file found.  Proceeding without authorization.\n")
		return nil
	}
	data, err := os.ReadFile(tc.Auth.AuthFile)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &authorizedUsers); err != nil {
		return err
	}
	ndv.Infof("Loaded %d authorized users from %s\n", len(authorizedUsers), tc.Auth.AuthFile)
	return nil
}

// globalIsAuthorized returns true if the user is in our authorization file
func globalIsAuthorized(user string, httpMethod string) bool {
	authMu.RLock()
	defer authMu.RUnlock()
	if len(authorizedUsers) == 0 {
		return false
	}
	method := strings.ToLower(httpMethod)
	readReq := method == "get" || method == "head"
	priv, found := authorizedUsers[user]
	if !found {
		priv, found = authorizedUsers["*"]
		if !found {
			return false
		}
	}
	switch priv {
	case "readwrite":
		return true
	case "read":
		return readReq
	case "write":
		return !readReq
	default:
		ndv.Errorf("Authorized user %q has unparsable privilege %q\n", user, priv)
		return false
	}
}

type tokenRequest struct {
	User   string `json:"user"`
	Secret string `json:"secret"`
}

// serverTokenHandler issues a JWT for a user in the auth file when given the
// server's secret key.
func serverTokenHandler(w http.ResponseWriter, r *http.Request) {
	if !AuthEnabled() {
		BadRequest(w, r, "authorization is not enabled on this server")
		return
	}
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "token request must be JSON with user and secret: %v", err)
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(tc.Auth.SecretKey)) != 1 {
		Unauthorized(w, r, "bad secret for token request")
		return
	}
	authMu.RLock()
	_, found := authorizedUsers[req.User]
	authMu.RUnlock()
	if req.User == "" || !found {
		Forbidden(w, r, "user %q is not in the authorization file", req.User)
		return
	}
	tokenString, err := generateJWT(req.User)
	if err != nil {
		ServerError(w, r, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, tokenString)
}
