// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
)

const (
	soap11NS = "http://schemas.xmlsoap.org/soap/envelope/"
	soap12NS = "http://www.w3.org/2003/05/soap-envelope"
)

// prefetchWSDL loads the service description once per build
func (c *Connector) prefetchWSDL(ctx context.Context) {
	resp, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: "?wsdl"})
	if err == nil && !resp.OK() {
		err = fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err != nil {
		c.Log("WSDL prefetch failed for %s, continuing without it: %v", c.Name(), err)
		return
	}

	c.mu.Lock()
	c.wsdl = resp.Body
	c.mu.Unlock()
	c.Log("Fetched WSDL for %s (%d bytes)", c.Name(), len(resp.Body))
}

// WSDL returns the prefetched service description, nil when the prefetch
// failed or the connection is plain HTTP
func (c *Connector) WSDL() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wsdl
}

// Call wraps body in a SOAP envelope, adds the WS-Security header when the
// bound credentials produce one, and posts it to the endpoint
func (c *Connector) Call(ctx context.Context, body []byte) (*Response, error) {
	if !c.config.IsSOAP() {
		return nil, base.NewConnectorError(c.Name(), "Call", "connection is not SOAP", nil)
	}

	var header string
	if hp, ok := c.GetAuthProvider().(sdk.SOAPHeaderProvider); ok {
		var err error
		if header, err = hp.SOAPHeader(time.Now()); err != nil {
			return nil, base.NewConnectorError(c.Name(), "Call", "failed to build security header", err)
		}
	}

	headers := map[string]string{}
	if c.config.SOAPVersion == "1.2" {
		ct := "application/soap+xml; charset=utf-8"
		if c.config.SOAPAction != "" {
			ct += fmt.Sprintf(`; action="%s"`, c.config.SOAPAction)
		}
		headers["Content-Type"] = ct
	} else {
		headers["Content-Type"] = "text/xml; charset=utf-8"
		headers["SOAPAction"] = fmt.Sprintf(`"%s"`, c.config.SOAPAction)
	}

	return c.Do(ctx, &Request{
		Method:  http.MethodPost,
		Headers: headers,
		Body:    Envelope(c.config.SOAPVersion, header, body),
	})
}

// Envelope renders a SOAP envelope of the given version around body
func Envelope(version, header string, body []byte) []byte {
	ns := soap11NS
	if version == "1.2" {
		ns = soap12NS
	}

	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	fmt.Fprintf(&b, `<soap:Envelope xmlns:soap="%s">`, ns)
	if header != "" {
		b.WriteString(`<soap:Header>`)
		b.WriteString(header)
		b.WriteString(`</soap:Header>`)
	}
	b.WriteString(`<soap:Body>`)
	b.Write(body)
	b.WriteString(`</soap:Body></soap:Envelope>`)
	return b.Bytes()
}
