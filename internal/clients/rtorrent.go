// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/crossseed/internal/buildinfo"
)

// Rtorrent adapts the rTorrent XML-RPC interface over HTTP.
type Rtorrent struct {
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
}

func newRtorrent(rpcURL string) (*Rtorrent, error) {
	clean, username, password, err := splitUserinfo(rpcURL)
	if err != nil {
		return nil, err
	}
	return &Rtorrent{
		endpoint:   clean,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (r *Rtorrent) Kind() string { return "rtorrent" }

// xmlrpcValue covers the subset of XML-RPC values rTorrent returns.
type xmlrpcValue struct {
	String *string       `xml:"string"`
	Int    *int64        `xml:"i4"`
	Int8   *int64        `xml:"i8"`
	Base64 *string       `xml:"base64"`
	Array  *xmlrpcArray  `xml:"array"`
	Inner  string        `xml:",chardata"`
}

type xmlrpcArray struct {
	Values []xmlrpcValue `xml:"data>value"`
}

type xmlrpcResponse struct {
	XMLName xml.Name     `xml:"methodResponse"`
	Value   *xmlrpcValue `xml:"params>param>value"`
	Fault   *struct {
		Value string `xml:",innerxml"`
	} `xml:"fault"`
}

func (v *xmlrpcValue) text() string {
	if v == nil {
		return ""
	}
	if v.String != nil {
		return *v.String
	}
	return strings.TrimSpace(v.Inner)
}

func (v *xmlrpcValue) integer() int64 {
	if v == nil {
		return 0
	}
	if v.Int8 != nil {
		return *v.Int8
	}
	if v.Int != nil {
		return *v.Int
	}
	return 0
}

func encodeXMLRPCRequest(method string, args []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodCall><methodName>")
	xml.EscapeText(&buf, []byte(method))
	buf.WriteString("</methodName><params>")
	for _, arg := range args {
		buf.WriteString("<param><value>")
		switch a := arg.(type) {
		case string:
			buf.WriteString("<string>")
			xml.EscapeText(&buf, []byte(a))
			buf.WriteString("</string>")
		case []byte:
			buf.WriteString("<base64>")
			buf.WriteString(base64.StdEncoding.EncodeToString(a))
			buf.WriteString("</base64>")
		case int, int64:
			fmt.Fprintf(&buf, "<i8>%d</i8>", a)
		default:
			return nil, errors.Errorf("unsupported xmlrpc argument type %T", arg)
		}
		buf.WriteString("</value></param>")
	}
	buf.WriteString("</params></methodCall>")
	return buf.Bytes(), nil
}

func (r *Rtorrent) call(ctx context.Context, method string, args ...any) (*xmlrpcValue, error) {
	body, err := encodeXMLRPCRequest(method, args)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build xmlrpc request")
	}
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if r.username != "" {
		req.SetBasicAuth(r.username, r.password)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "rtorrent rpc")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("rtorrent rpc status %d", resp.StatusCode)
	}

	var rpcResp xmlrpcResponse
	if err := xml.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, errors.Wrap(err, "decode xmlrpc response")
	}
	if rpcResp.Fault != nil {
		return nil, errors.Errorf("rtorrent fault: %s", rpcResp.Fault.Value)
	}
	return rpcResp.Value, nil
}

func (r *Rtorrent) ValidateConfig(ctx context.Context) error {
	if _, err := r.call(ctx, "system.client_version"); err != nil {
		return errors.Wrap(err, "rtorrent probe")
	}
	return nil
}

func (r *Rtorrent) IsTorrentComplete(ctx context.Context, infoHash string) (bool, error) {
	hash := strings.ToUpper(infoHash)
	value, err := r.call(ctx, "d.complete", hash)
	if err != nil {
		if strings.Contains(err.Error(), "fault") {
			return false, ErrTorrentNotFound
		}
		return false, err
	}
	return value.integer() == 1, nil
}

func (r *Rtorrent) GetAllTorrents(ctx context.Context) ([]TorrentEntry, error) {
	value, err := r.call(ctx, "d.multicall2", "", "main",
		"d.hash=", "d.name=", "d.directory=", "d.complete=", "d.custom1=")
	if err != nil {
		return nil, err
	}
	if value == nil || value.Array == nil {
		return nil, nil
	}

	entries := make([]TorrentEntry, 0, len(value.Array.Values))
	for _, row := range value.Array.Values {
		if row.Array == nil || len(row.Array.Values) < 5 {
			continue
		}
		fields := row.Array.Values
		entries = append(entries, TorrentEntry{
			InfoHash: strings.ToLower(fields[0].text()),
			Name:     fields[1].text(),
			SavePath: fields[2].text(),
			Complete: fields[3].integer() == 1,
			Category: fields[4].text(),
		})
	}
	return entries, nil
}

func (r *Rtorrent) GetDownloadDir(ctx context.Context, infoHash string, onlyCompleted bool) (string, error) {
	hash := strings.ToUpper(infoHash)
	complete, err := r.IsTorrentComplete(ctx, hash)
	if err != nil {
		return "", err
	}
	if onlyCompleted && !complete {
		return "", ErrTorrentNotComplete
	}
	value, err := r.call(ctx, "d.directory", hash)
	if err != nil {
		return "", err
	}
	return value.text(), nil
}

func (r *Rtorrent) Inject(ctx context.Context, req *InjectRequest) (InjectOutcome, error) {
	hash := strings.ToUpper(req.Meta.InfoHash())
	if _, err := r.call(ctx, "d.name", hash); err == nil {
		return InjectAlreadyExists, nil
	}

	data, err := req.Meta.Serialize()
	if err != nil {
		return InjectFailure, errors.Wrap(err, "serialize torrent")
	}

	args := []any{"", data,
		fmt.Sprintf("d.directory.set=\"%s\"", req.SavePath),
	}
	if req.Category != "" {
		args = append(args, fmt.Sprintf("d.custom1.set=%s", req.Category))
	}

	if _, err := r.call(ctx, "load.raw_start", args...); err != nil {
		return InjectFailure, err
	}
	return InjectSuccess, nil
}

func (r *Rtorrent) RecheckTorrent(ctx context.Context, infoHash string) error {
	_, err := r.call(ctx, "d.check_hash", strings.ToUpper(infoHash))
	return err
}
