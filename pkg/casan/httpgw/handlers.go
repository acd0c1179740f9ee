package httpgw

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/junbin-yang/casan-go/pkg/casan/coap"
	"github.com/junbin-yang/casan-go/pkg/casan/engine"
	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

func (s *Server) registerRoutes() {
	ns := s.opts.Namespaces

	// 管理页面
	s.mux.HandleFunc("GET "+ns.Admin+"/{$}", s.handleAdminIndex)
	s.mux.HandleFunc("GET "+ns.Admin+"/{name}", s.handleAdmin)
	s.mux.HandleFunc("GET "+ns.Admin+"/slave/{sid}", s.handleAdminSlave)

	// 从机资源
	s.mux.HandleFunc(ns.Casan+"/{path...}", s.handleCasan)

	// 资源列表
	s.mux.HandleFunc("GET "+ns.WellKnown, s.handleWellKnown)
}

var pageTmpl = template.Must(template.New("page").Parse(`<html><head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{.Body}}
</body></html>
`))

const indexBody = `<ul>
<li><a href="conf">configuration</a></li>
<li><a href="run">running status</a></li>
<li><a href="slave">slave status</a></li>
<li><a href="cache">message cache contents</a></li>
</ul>`

func writePage(w http.ResponseWriter, title string, body template.HTML) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, struct {
		Title string
		Body  template.HTML
	}{title, body}); err != nil {
		log.Warnf("[HTTP] render %s: %v", title, err)
	}
}

// render 把片段模板的输出作为可信HTML
func render(f func(io.Writer) error) (template.HTML, error) {
	var buf bytes.Buffer
	if err := f(&buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func (s *Server) handleAdminIndex(w http.ResponseWriter, r *http.Request) {
	writePage(w, "Welcome to CASAN", template.HTML(indexBody))
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	var (
		title string
		body  template.HTML
		err   error
	)
	switch r.PathValue("name") {
	case "index":
		title, body = "Welcome to CASAN", template.HTML(indexBody)
	case "conf":
		text := ""
		if s.opts.ConfText != nil {
			text = s.opts.ConfText()
		}
		title = "Configuration"
		body = template.HTML("<pre>" + template.HTMLEscapeString(text) + "</pre>")
	case "run":
		title = "Current CASAN status"
		body, err = render(s.gw.Status().WriteHTML)
	case "cache":
		title = "CASAN cache contents"
		body, err = render(s.cache.WriteHTML)
	case "slave":
		title = "Slaves"
		body, err = render(s.writeSlaveList)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Errorf("[HTTP] admin page %s: %v", r.PathValue("name"), err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writePage(w, title, body)
}

var slaveListTmpl = template.Must(template.New("slaves").Parse(`<table>
<tr><th>id</th><th>status</th><th>address</th><th>resources</th></tr>
{{range .}}<tr><td><a href="slave/{{.SID}}">{{.SID}}</a></td><td>{{.Status}}</td><td>{{.Addr}}</td><td>{{.Resources}}</td></tr>
{{end}}</table>
`))

func (s *Server) writeSlaveList(w io.Writer) error {
	return slaveListTmpl.Execute(w, s.gw.Status().Slaves)
}

func (s *Server) handleAdminSlave(w http.ResponseWriter, r *http.Request) {
	sid, err := strconv.ParseInt(r.PathValue("sid"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	si, ok := s.gw.SlaveInfo(sid)
	if !ok {
		http.NotFound(w, r)
		return
	}
	body, err := render(si.WriteHTML)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writePage(w, fmt.Sprintf("Slave %d", sid), body)
}

func (s *Server) handleWellKnown(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/link-format")
	io.WriteString(w, s.gw.ResourceListText())
}

var methodCodes = map[string]coap.Code{
	http.MethodGet:    coap.CodeGET,
	http.MethodPost:   coap.CodePOST,
	http.MethodPut:    coap.CodePUT,
	http.MethodDelete: coap.CodeDELETE,
}

// handleCasan /casan/<sid>/<资源路径>
func (s *Server) handleCasan(w http.ResponseWriter, r *http.Request) {
	code, ok := methodCodes[r.Method]
	if !ok {
		w.Header().Set("Allow", "GET, POST, PUT, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	segs := strings.Split(strings.Trim(r.PathValue("path"), "/"), "/")
	sid, err := strconv.ParseInt(segs[0], 10, 64)
	if err != nil || sid <= 0 {
		http.NotFound(w, r)
		return
	}
	path := segs[1:]

	var payload []byte
	if r.Body != nil && code != coap.CodeGET {
		payload, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
		if err != nil {
			http.Error(w, "request body too large", http.StatusBadRequest)
			return
		}
	}

	opts, err := queryOptions(r.URL.RawQuery)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req, err := s.gw.NewRequest(sid, code, path, payload, opts...)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	if code == coap.CodeGET {
		if hit := s.cache.Get(req); hit != nil {
			log.Debugf("[HTTP] cache hit for %s", r.URL.Path)
			writeReply(w, hit.Reply())
			return
		}
	}

	rep, err := s.gw.Request(req, s.opts.RequestTimeout)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if code == coap.CodeGET {
		s.cache.Add(req)
	}
	writeReply(w, rep)
}

// queryOptions 把HTTP查询串转换成Uri-Query选项
func queryOptions(raw string) ([]coap.Option, error) {
	if raw == "" {
		return nil, nil
	}
	var opts []coap.Option
	for _, q := range strings.Split(raw, "&") {
		if q == "" {
			continue
		}
		o, err := coap.NewStringOption(coap.OptUriQuery, q)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", q, err)
		}
		opts = append(opts, o)
	}
	return opts, nil
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownSlave), errors.Is(err, engine.ErrUnknownResource):
		http.NotFound(w, r)
	case errors.Is(err, engine.ErrTooLarge):
		http.Error(w, "request too large for slave", http.StatusBadRequest)
	case errors.Is(err, engine.ErrNoReply), errors.Is(err, engine.ErrNotRunning):
		http.Error(w, "no reply from slave", http.StatusServiceUnavailable)
	default:
		log.Errorf("[HTTP] %s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// Content-Format编号对应的MIME类型
var contentTypes = map[uint64]string{
	0:  "text/plain; charset=utf-8",
	40: "application/link-format",
	41: "application/xml",
	42: "application/octet-stream",
	47: "application/exi",
	50: "application/json",
}

// httpStatus 应答代码对应的HTTP状态码
func httpStatus(c coap.Code) int {
	switch c {
	case coap.CodeCreated:
		return http.StatusCreated
	case coap.CodeBadRequest:
		return http.StatusBadRequest
	case coap.CodeNotFound:
		return http.StatusNotFound
	case coap.CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case coap.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	}
	switch c.Class() {
	case 2:
		return http.StatusOK
	case 4:
		return http.StatusBadRequest
	case 5:
		return http.StatusBadGateway
	}
	// 空的ACK或RST
	return http.StatusBadGateway
}

func writeReply(w http.ResponseWriter, rep *engine.Msg) {
	if rep == nil {
		http.Error(w, "no reply from slave", http.StatusServiceUnavailable)
		return
	}
	ct := "text/plain; charset=utf-8"
	if o, ok := rep.Option(coap.OptContentFormat); ok {
		if t, ok := contentTypes[o.Uint()]; ok {
			ct = t
		}
	}
	w.Header().Set("Content-Type", ct)
	if ma, ok := rep.MaxAge(); ok {
		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", ma))
	}
	w.WriteHeader(httpStatus(rep.Code()))
	w.Write(rep.Payload())
}
