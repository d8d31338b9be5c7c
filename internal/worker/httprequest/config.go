package httprequest

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/template"

	"github.com/simplesurance/mergetrain/internal/maputils"
)

var templateFuncs = template.FuncMap{
	"queryescape": url.QueryEscape,
}

// Config is the configuration of a HTTP-Request worker.
// url, data and header values are text/template strings, they are rendered
// with a TemplateData value.
type Config struct {
	rawURL   string
	url      *template.Template
	user     string
	password string
	method   string
	headers  map[string]*template.Template
	data     *template.Template
}

// TemplateData is the data that is available in templated configuration
// values.
type TemplateData struct {
	Owner        string
	Repository   string
	Branch       string
	MergeRequest int
	SHA          string
}

func parseTemplate(name, text string) (*template.Template, error) {
	templ, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%s: parsing template failed: %w", name, err)
	}

	return templ, nil
}

// NewConfigFromMap instantiates a config from a configuration map.
// The map is usually the worker table of a repository in the configuration file.
func NewConfigFromMap(m map[string]any) (*Config, error) {
	rawURL, err := maputils.StrVal(m, "url")
	if err != nil {
		return nil, err
	}
	if rawURL == "" {
		return nil, errors.New("url must be set")
	}

	user, err := maputils.StrVal(m, "user")
	if err != nil {
		return nil, err
	}

	password, err := maputils.StrVal(m, "password")
	if err != nil {
		return nil, err
	}

	data, err := maputils.StrVal(m, "data")
	if err != nil {
		return nil, err
	}

	method, err := maputils.StrVal(m, "method")
	if err != nil {
		return nil, err
	}

	if method == "" {
		method = http.MethodPost
	}

	headers, err := maputils.MapVal(m, "headers")
	if err != nil {
		return nil, err
	}
	strHeaders, err := maputils.ToStrMap(headers)
	if err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}

	cfg := Config{
		rawURL:   rawURL,
		user:     user,
		password: password,
		method:   strings.ToUpper(method),
		headers:  make(map[string]*template.Template, len(strHeaders)),
	}

	if cfg.url, err = parseTemplate("url", rawURL); err != nil {
		return nil, err
	}

	if data != "" {
		if cfg.data, err = parseTemplate("data", data); err != nil {
			return nil, err
		}
	}

	for k, v := range strHeaders {
		if cfg.headers[k], err = parseTemplate("header "+k, v); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) String() string {
	return fmt.Sprintf("httprequest: %s to %s", c.method, c.rawURL)
}

func (c *Config) DetailedString() string {
	const maskedStr = "************"
	var result strings.Builder

	result.WriteString("http-request:\n")
	result.WriteString(fmt.Sprintf("  url: %s\n", c.rawURL))
	result.WriteString(fmt.Sprintf("  method: %s\n", c.method))
	if c.user != "" {
		result.WriteString("  user: " + maskedStr + "\n")
	}

	if c.password != "" {
		result.WriteString("  password: " + maskedStr + "\n")
	}

	if c.data != nil {
		result.WriteString("  data: " + maskedStr + "\n")
	}

	if len(c.headers) > 0 {
		result.WriteString("  headers:\n")
	}

	for k := range c.headers {
		result.WriteString(fmt.Sprintf("    %s: %s\n", k, maskedStr))
	}

	return result.String()
}
