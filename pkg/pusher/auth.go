package pusher

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// authenticator builds the signed query parameters for REST calls.
// It is a pure function of (method, path, body, current time, secret).
type authenticator struct {
	key    string
	secret string
	now    func() time.Time
}

func newAuthenticator(key, secret string) *authenticator {
	return &authenticator{key: key, secret: secret, now: time.Now}
}

// params returns the five authentication query parameters for the given
// request: auth_key, auth_timestamp, auth_version, body_md5 and
// auth_signature.
func (a *authenticator) params(method, path string, body []byte) url.Values {
	bodyMD5 := md5.Sum(body)

	values := url.Values{}
	values.Set("auth_key", a.key)
	values.Set("auth_timestamp", strconv.FormatInt(a.now().Unix(), 10))
	values.Set("auth_version", "1.0")
	values.Set("body_md5", hex.EncodeToString(bodyMD5[:]))

	values.Set("auth_signature", a.sign(method, path, values))
	return values
}

// sign computes the hex HMAC-SHA256 of the canonical signing string:
// METHOD\nPATH\n followed by the lexicographically sorted k=v query
// string of the unsigned parameters.
func (a *authenticator) sign(method, path string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}

	toSign := fmt.Sprintf("%s\n%s\n%s", strings.ToUpper(method), path, strings.Join(pairs, "&"))

	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write([]byte(toSign))
	return hex.EncodeToString(mac.Sum(nil))
}
