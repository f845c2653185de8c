package server

import (
	"bytes"
	"fmt"
	"strings"
)

// hmrClientScript is injected into served HTML pages. It speaks the same
// message protocol as HmrChannel: module updates trigger a reload of the
// affected page, compile errors render an overlay, and pings keep the
// connection alive across proxies.
const hmrClientScript = `<script>
(function () {
  var path = %q;
  var proto = location.protocol === "https:" ? "wss:" : "ws:";
  var overlayId = "kiln-error-overlay";

  function removeOverlay() {
    var el = document.getElementById(overlayId);
    if (el) el.remove();
  }

  function showOverlay(payload) {
    removeOverlay();
    var el = document.createElement("div");
    el.id = overlayId;
    el.style.cssText = "position:fixed;inset:0;z-index:99999;background:rgba(0,0,0,0.88);color:#ff8080;font-family:monospace;padding:32px;overflow:auto;white-space:pre-wrap;";
    el.textContent = "Build failed\n\n" + payload;
    document.body.appendChild(el);
  }

  function connect() {
    var ws = new WebSocket(proto + "//" + location.host + path);
    var ping = null;

    ws.onopen = function () {
      ping = setInterval(function () {
        ws.send(JSON.stringify({ type: "ping" }));
      }, 10000);
    };

    ws.onmessage = function (ev) {
      var msg;
      try {
        msg = JSON.parse(ev.data);
      } catch (e) {
        return;
      }
      switch (msg.type) {
      case "update":
        removeOverlay();
        location.reload();
        break;
      case "full-reload":
        location.reload();
        break;
      case "error":
        showOverlay(msg.payload || "unknown error");
        break;
      }
    };

    ws.onclose = function () {
      if (ping) clearInterval(ping);
      setTimeout(connect, 1000);
    };
  }

  connect();
})();
</script>`

// InjectClientScript inserts the hot-reload client into an HTML document,
// preferably just before </body>, falling back to </html>, then to plain
// append for fragment documents.
func InjectClientScript(html []byte, hmrPath string) []byte {
	script := []byte(fmt.Sprintf(hmrClientScript, hmrPath))

	for _, marker := range []string{"</body>", "</html>"} {
		idx := bytes.LastIndex(html, []byte(marker))
		if idx < 0 {
			idx = bytes.LastIndex(html, []byte(strings.ToUpper(marker)))
		}
		if idx >= 0 {
			out := make([]byte, 0, len(html)+len(script)+1)
			out = append(out, html[:idx]...)
			out = append(out, script...)
			out = append(out, '\n')
			out = append(out, html[idx:]...)
			return out
		}
	}

	out := make([]byte, 0, len(html)+len(script)+1)
	out = append(out, html...)
	out = append(out, '\n')
	out = append(out, script...)
	return out
}
