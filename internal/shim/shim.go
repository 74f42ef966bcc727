// Package shim injects protective runtime code into captured pages so they
// replay without a live origin behind them.
package shim

import (
	"regexp"
	"strings"
)

var headOpenRe = regexp.MustCompile(`(?i)<head[^>]*>`)

// Version identifies the guard blob below. Bump it whenever the blob
// changes so stale captures can be told apart from fresh ones.
const Version = "4"

// guardScript is an opaque, versioned asset. Each block counters a distinct
// breakage pattern seen in replayed pages; removing any of them is a
// regression risk, so the blob is kept whole rather than simplified.
const guardScript = `<script data-pagevault-shim="` + Version + `">
(function () {
  'use strict';
  var LOCAL_PREFIX = '/serve/';
  var SILENCED_HOSTS = ['google-analytics.com', 'googletagmanager.com', 'doubleclick.net', 'facebook.net', 'hotjar.com', 'segment.io'];

  function isLocal(url) {
    if (typeof url !== 'string') return false;
    return url.indexOf(LOCAL_PREFIX) === 0 || url.indexOf('data:') === 0 || url.indexOf('#') === 0;
  }

  // Analytics beacons are dropped without the synthesized success other
  // blocked calls get; nothing should retry or react to them.
  function isSilenced(url) {
    if (typeof url !== 'string') return false;
    for (var i = 0; i < SILENCED_HOSTS.length; i++) {
      if (url.indexOf(SILENCED_HOSTS[i]) !== -1) return true;
    }
    return false;
  }

  // Keep script errors and unhandled rejections from surfacing.
  window.addEventListener('error', function (e) { e.preventDefault(); return true; }, true);
  window.addEventListener('unhandledrejection', function (e) { e.preventDefault(); }, true);
  window.onerror = function () { return true; };

  // Outbound XHR: anything that is not a local replay path gets a
  // synthesized empty success instead of a network round trip.
  var RealXHR = window.XMLHttpRequest;
  function ShimXHR() {
    var xhr = new RealXHR();
    var blocked = false;
    var silenced = false;
    var open = xhr.open;
    xhr.open = function (method, url) {
      blocked = !isLocal(url);
      silenced = isSilenced(url);
      if (blocked) { return; }
      return open.apply(xhr, arguments);
    };
    var send = xhr.send;
    xhr.send = function () {
      if (!blocked) { try { return send.apply(xhr, arguments); } catch (err) {} return; }
      try {
        Object.defineProperty(xhr, 'readyState', { value: 4 });
        Object.defineProperty(xhr, 'status', { value: 200 });
        Object.defineProperty(xhr, 'responseText', { value: '' });
        Object.defineProperty(xhr, 'response', { value: '' });
      } catch (err) {}
      if (silenced) { return; }
      setTimeout(function () {
        if (typeof xhr.onreadystatechange === 'function') { try { xhr.onreadystatechange(); } catch (err) {} }
        if (typeof xhr.onload === 'function') { try { xhr.onload(); } catch (err) {} }
      }, 0);
    };
    return xhr;
  }
  window.XMLHttpRequest = ShimXHR;

  // Outbound fetch becomes an empty 200.
  var realFetch = window.fetch;
  window.fetch = function (input, init) {
    var url = (input && input.url) || input;
    if (isLocal(url)) { return realFetch.apply(window, arguments).catch(function () { return new Response('', { status: 200 }); }); }
    if (isSilenced(url)) { return Promise.resolve(new Response(null, { status: 204 })); }
    return Promise.resolve(new Response('', { status: 200, statusText: 'OK' }));
  };

  // Dynamically created external scripts are neutered before they load.
  var realCreate = document.createElement.bind(document);
  document.createElement = function (tag) {
    var el = realCreate(tag);
    if (String(tag).toLowerCase() === 'script') {
      var setAttr = el.setAttribute.bind(el);
      el.setAttribute = function (name, value) {
        if (name === 'src' && !isLocal(value)) { return; }
        return setAttr(name, value);
      };
      try {
        Object.defineProperty(el, 'src', {
          get: function () { return el.getAttribute('src') || ''; },
          set: function (value) { if (isLocal(value)) { setAttr('src', value); } }
        });
      } catch (err) {}
    }
    return el;
  };

  // jQuery lands after this shim; patch its transport once it exists.
  var jqTimer = setInterval(function () {
    var jq = window.jQuery || window.$;
    if (!jq || !jq.ajax) { return; }
    clearInterval(jqTimer);
    var realAjax = jq.ajax;
    jq.ajax = function (a, b) {
      var opts = typeof a === 'string' ? (b || {}) : (a || {});
      var url = typeof a === 'string' ? a : opts.url;
      if (isLocal(url)) { try { return realAjax.apply(jq, arguments); } catch (err) {} }
      var d = jq.Deferred();
      setTimeout(function () {
        if (typeof opts.success === 'function') { try { opts.success('', 'success', { status: 200 }); } catch (err) {} }
        d.resolve('', 'success', { status: 200 });
      }, 0);
      return d.promise();
    };
  }, 50);
  setTimeout(function () { clearInterval(jqTimer); }, 10000);

  // DOM queries over malformed selectors throw in replayed fragments;
  // swallow instead.
  ['querySelector', 'querySelectorAll', 'getElementById', 'getElementsByClassName'].forEach(function (name) {
    var real = document[name] && document[name].bind(document);
    if (!real) return;
    document[name] = function () {
      try { return real.apply(document, arguments); }
      catch (err) { return name === 'querySelectorAll' || name === 'getElementsByClassName' ? [] : null; }
    };
  });

  // A common failure mode of broken pages is wiping their own body.
  function guardBody() {
    if (!document.body) { return; }
    try {
      var desc = Object.getOwnPropertyDescriptor(Element.prototype, 'innerHTML');
      Object.defineProperty(document.body, 'innerHTML', {
        get: function () { return desc.get.call(document.body); },
        set: function (value) { if (value && String(value).length > 50) { desc.set.call(document.body, value); } }
      });
    } catch (err) {}
    var realWrite = document.write.bind(document);
    document.write = function (markup) { if (document.readyState !== 'complete') { try { realWrite(markup); } catch (err) {} } };
    document.open = function () { return document; };
    document.close = function () {};
  }
  if (document.readyState !== 'loading') { guardBody(); }
  else { document.addEventListener('DOMContentLoaded', guardBody); }

  // Some pages wait forever on a load event their blocked resources will
  // never fire; synthesize completion.
  setTimeout(function () {
    if (document.readyState !== 'complete') {
      try {
        document.dispatchEvent(new Event('DOMContentLoaded', { bubbles: true }));
        window.dispatchEvent(new Event('load'));
      } catch (err) {}
    }
  }, 4000);
})();
</script>
<style data-pagevault-shim="` + Version + `">
  [data-pagevault-hidden] { display: none !important; }
  noscript { display: none !important; }
</style>
`

// Inject places the guard blob at the very start of the document head so it
// runs before any page script. Documents without a head tag get the blob
// prepended instead.
func Inject(html string) string {
	if strings.Contains(html, `data-pagevault-shim=`) {
		return html
	}
	if loc := headOpenRe.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + "\n" + guardScript + html[loc[1]:]
	}
	return guardScript + html
}
