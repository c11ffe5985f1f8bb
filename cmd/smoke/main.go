package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var verbose bool
var baseURL *url.URL

// scenario 封装一次站点巡检过程中共享的资源。
type scenario struct {
	client    *http.Client
	adminUser string
	adminPass string
}

type slot struct {
	Label     string `json:"label"`
	Available bool   `json:"available"`
}

type dayAvailability struct {
	Date  string `json:"date"`
	Open  bool   `json:"open"`
	Slots []slot `json:"slots"`
}

func banner(title string) {
	log.Printf("\n=== %s ===", title)
}

func step(format string, args ...interface{}) {
	log.Printf(" • "+format, args...)
}

func main() {
	var (
		base      string
		email     string
		adminUser string
		adminPass string
		timeout   time.Duration
	)

	flag.StringVar(&base, "base", "http://127.0.0.1:8080", "Base URL of the D-Solar site")
	flag.StringVar(&email, "email", "smoke@example.com", "Email used for the test booking")
	flag.StringVar(&adminUser, "admin-user", "", "Admin username for back-office checks (optional)")
	flag.StringVar(&adminPass, "admin-pass", "", "Admin password for back-office checks")
	flag.DurationVar(&timeout, "timeout", 20*time.Second, "HTTP timeout for requests")
	flag.BoolVar(&verbose, "v", true, "Verbose logging")
	flag.Parse()

	var err error
	baseURL, err = url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		log.Fatalf("parse base url: %v", err)
	}

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, Timeout: timeout}
	// 登录成功返回 302，保留给调用方判断
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	sc := &scenario{client: client, adminUser: adminUser, adminPass: adminPass}
	sc.run(email)
}

func (s *scenario) run(email string) {
	must := func(err error, msg string) {
		if err != nil {
			log.Fatalf("%s: %v", msg, err)
		}
	}

	log.Printf("smoke start -> %s", baseURL)

	banner("Health & Public Pages")
	for _, p := range []string{"/healthz", "/metrics", "/", "/about", "/calculator", "/blog"} {
		step("GET %s", p)
		must(expectStatus(s.client, "GET", resolve(p), 200), p)
	}
	step("GET unknown page (expect 404)")
	must(expectStatus(s.client, "GET", resolve("/definitely-not-here"), 404), "not found")

	banner("Public API")
	step("List packages")
	var pkgs []map[string]any
	must(doJSON(s.client, "GET", resolve("/api/packages").String(), nil, 200, &pkgs), "packages")
	step("%d active packages", len(pkgs))
	step("List posts")
	must(doJSON(s.client, "GET", resolve("/api/posts").String(), nil, 200, nil), "posts")
	step("Estimate savings")
	var est map[string]any
	must(doJSON(s.client, "POST", resolve("/api/calculator/estimate").String(),
		map[string]any{"monthly_bill": 6000, "system_type": "hybrid"}, 200, &est), "estimate")
	step("Ask the chatbot")
	must(doJSON(s.client, "POST", resolve("/api/chat").String(), map[string]string{"message": "How much is a hybrid system?"}, 200, nil), "chat")
	step("Weather (best effort, 503 when disabled)")
	_ = doJSON(s.client, "GET", resolve("/api/weather").String(), nil, 200, nil)

	banner("Booking Flow")
	date, hhmm := s.findOpenSlot(14)
	if date == "" {
		log.Fatalf("no open slot in the next 14 days")
	}
	step("Open slot %s %s", date, hhmm)
	status, inputs, _, err := fetchHiddenForm(s.client, resolve("/book?date="+date))
	must(err, "book form")
	if status != 200 || inputs.Get("csrf_token") == "" {
		log.Fatalf("book form: status %d, csrf token missing", status)
	}
	form := cloneValues(inputs)
	form.Set("name", "Smoke Test")
	form.Set("email", email)
	form.Set("phone", "+63 900 000 0000")
	form.Set("address", "1 Smoke Test Ave")
	form.Set("city", "Makati")
	form.Set("date", date)
	form.Set("time", hhmm)
	form.Set("notes", "automated smoke booking, safe to delete")
	step("Submit booking form")
	_, _, err = postFormExpect(s.client, resolve("/book"), form, []int{201})
	must(err, "book submit")
	step("Booking without CSRF token (expect 403)")
	form.Del("csrf_token")
	_, _, err = postFormExpect(s.client, resolve("/book"), form, []int{403})
	must(err, "book csrf")
	step("Resend confirmation (always 202)")
	must(doJSON(s.client, "POST", resolve("/api/appointments/resend").String(), map[string]string{"email": email}, 202, nil), "resend")
	step("Unknown confirmation token (expect 400)")
	must(expectStatus(s.client, "GET", resolve("/appointments/confirm?token=bogus"), 400), "confirm bogus")

	if s.adminUser == "" {
		log.Printf("\nsmoke finished (admin checks skipped)")
		return
	}

	banner("Back Office")
	step("Admin API without session (expect 401)")
	must(expectStatus(s.client, "GET", resolve("/api/admin/me"), 401), "admin unauth")
	status, inputs, _, err = fetchHiddenForm(s.client, resolve("/admin/login"))
	must(err, "login form")
	if status != 200 {
		log.Fatalf("login form: status %d", status)
	}
	login := cloneValues(inputs)
	login.Set("username", s.adminUser)
	login.Set("password", s.adminPass)
	step("Log in as %s", s.adminUser)
	_, loc, err := postFormExpect(s.client, resolve("/admin/login"), login, []int{302})
	must(err, "admin login")
	if loc != "/admin" {
		log.Fatalf("admin login: unexpected redirect %q", loc)
	}
	step("Dashboard")
	must(expectStatus(s.client, "GET", resolve("/admin"), 200), "dashboard")
	var counts map[string]any
	must(doJSON(s.client, "GET", resolve("/api/admin/appointments/counts").String(), nil, 200, &counts), "counts")
	var list struct {
		Items []map[string]any `json:"items"`
		Total int64            `json:"total"`
	}
	must(doJSON(s.client, "GET", resolve("/api/admin/appointments?q="+url.QueryEscape(email)).String(), nil, 200, &list), "appointments")
	step("%d appointment(s) for %s", list.Total, email)

	log.Printf("\nsmoke finished")
}

// findOpenSlot 从明天起逐日查询，返回首个可预约时段。
func (s *scenario) findOpenSlot(days int) (string, string) {
	day := time.Now().AddDate(0, 0, 1)
	for i := 0; i < days; i++ {
		d := day.AddDate(0, 0, i).Format("2006-01-02")
		var av dayAvailability
		if err := doJSON(s.client, "GET", resolve("/api/appointments/availability?date="+d).String(), nil, 200, &av); err != nil {
			log.Printf("availability %s: %v", d, err)
			continue
		}
		if !av.Open {
			continue
		}
		for _, sl := range av.Slots {
			if sl.Available {
				return d, sl.Label
			}
		}
	}
	return "", ""
}

func fetchHiddenForm(client *http.Client, u *url.URL) (int, url.Values, []byte, error) {
	req, _ := http.NewRequest("GET", u.String(), nil)
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if verbose {
		log.Printf("GET %s -> %d", u, resp.StatusCode)
	}
	if resp.StatusCode != 200 {
		return resp.StatusCode, nil, body, nil
	}
	inputs, err := parseHiddenInputs(body)
	if err != nil {
		return resp.StatusCode, nil, body, err
	}
	return resp.StatusCode, inputs, body, nil
}

func parseHiddenInputs(body []byte) (url.Values, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "input") {
			var name, value, inputType string
			for _, attr := range n.Attr {
				switch strings.ToLower(attr.Key) {
				case "name":
					name = attr.Val
				case "value":
					value = attr.Val
				case "type":
					inputType = strings.ToLower(attr.Val)
				}
			}
			// 页面中可能有多个表单（如重发确认），同名隐藏字段只取第一个
			if name != "" && inputType == "hidden" && values.Get(name) == "" {
				values.Set(name, value)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walker(c)
		}
	}
	walker(doc)
	return values, nil
}

func postFormExpect(client *http.Client, u *url.URL, form url.Values, want []int) (int, string, error) {
	req, _ := http.NewRequest("POST", u.String(), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if len(want) > 0 && !statusAllowed(resp.StatusCode, want) {
		return resp.StatusCode, resp.Header.Get("Location"), fmt.Errorf("POST %s: status %d want %v body: %s", u, resp.StatusCode, want, safeTrunc(string(body), 800))
	}
	if verbose {
		log.Printf("POST %s -> %d Location=%s", u, resp.StatusCode, resp.Header.Get("Location"))
	}
	return resp.StatusCode, resp.Header.Get("Location"), nil
}

func statusAllowed(status int, want []int) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if status == w {
			return true
		}
	}
	return false
}

func resolve(p string) *url.URL {
	u, _ := url.Parse(p)
	return baseURL.ResolveReference(u)
}

func cloneValues(v url.Values) url.Values {
	c := make(url.Values, len(v))
	for k, vs := range v {
		c[k] = append([]string(nil), vs...)
	}
	return c
}

func doJSON(client *http.Client, method, urlStr string, body any, want int, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, urlStr, r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s %s: status %d, want %d, body: %s", method, urlStr, resp.StatusCode, want, string(b))
	}
	b, _ := io.ReadAll(resp.Body)
	if verbose {
		log.Printf("%s %s -> %d\n响应体: %s", method, urlStr, resp.StatusCode, prettyJSON(b))
	}
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			return err
		}
	}
	return nil
}

func expectStatus(client *http.Client, method string, u *url.URL, want int) error {
	req, _ := http.NewRequest(method, u.String(), nil)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d want %d body: %s", method, u, resp.StatusCode, want, safeTrunc(string(b), 800))
	}
	if verbose {
		log.Printf("%s %s -> %d", method, u, resp.StatusCode)
	}
	return nil
}

func prettyJSON(b []byte) string {
	var js any
	if err := json.Unmarshal(b, &js); err != nil {
		return safeTrunc(string(b), 1200)
	}
	pb, _ := json.MarshalIndent(js, "", "  ")
	return safeTrunc(string(pb), 1200)
}

func safeTrunc(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
