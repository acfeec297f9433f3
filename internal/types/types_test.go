package types

import (
    "encoding/json"
    "testing"
)

func TestParamsKeepFirstPositionLastValue(t *testing.T) {
    var p Params
    p.Set("b", "1")
    p.Set("a", "2")
    p.Set("b", "3")
    b, err := json.Marshal(p)
    if err != nil {
        t.Fatal(err)
    }
    if string(b) != `{"b":"3","a":"2"}` {
        t.Fatalf("json = %s", b)
    }
    var back Params
    if err := json.Unmarshal([]byte(`{"z":"1","y":"2"}`), &back); err != nil {
        t.Fatal(err)
    }
    if len(back) != 2 || back[0].Key != "z" || back[1].Key != "y" {
        t.Fatalf("order lost: %v", back)
    }
}

func TestHeaderListDecodeKeepsOrder(t *testing.T) {
    var h HeaderList
    if err := json.Unmarshal([]byte(`{"X-B":["1","2"],"X-A":"solo"}`), &h); err != nil {
        t.Fatal(err)
    }
    if len(h) != 2 || h[0].Name != "X-B" || len(h[0].Values) != 2 || h[1].Values[0] != "solo" {
        t.Fatalf("headers = %v", h)
    }
    if err := json.Unmarshal([]byte(`{"X-C":[1]}`), &h); err == nil {
        t.Fatal("numeric header value accepted")
    }
}

func TestPreambleComplete(t *testing.T) {
    var nilPre *Preamble
    tests := []struct {
        p    *Preamble
        want bool
    }{
        {nilPre, false},
        {&Preamble{Version: "HTTP/1.1", Status: 200, Reason: "OK"}, true},
        {&Preamble{Version: "HTTP/1.1", Reason: "OK"}, false},
        {&Preamble{Version: "HTTP/1.1", Status: 600, Reason: "Nope"}, false},
        {&Preamble{Status: 200, Reason: "OK"}, false},
        {&Preamble{Version: "HTTP/1.1", Status: 200}, false},
    }
    for i, tt := range tests {
        if got := tt.p.Complete(); got != tt.want {
            t.Errorf("case %d: Complete = %v, want %v", i, got, tt.want)
        }
    }
}

func TestParsedRequestJSON(t *testing.T) {
    req := ParsedRequest{Method: "GET", Path: "/api/users", Version: "HTTP/1.1", Headers: map[string][]string{"host": {"x"}}, Body: []byte{}}
    b, err := json.Marshal(&req)
    if err != nil {
        t.Fatal(err)
    }
    want := `{"method":"GET","path":"/api/users","query":{},"version":"HTTP/1.1","headers":{"host":["x"]},"body":""}`
    if string(b) != want {
        t.Fatalf("json = %s", b)
    }

    bin := ParsedRequest{Method: "PUT", Path: "/blob", Version: "HTTP/1.1", Body: []byte{0xff, 0x00, 0x7f}}
    b, err = json.Marshal(bin)
    if err != nil {
        t.Fatal(err)
    }
    var back ParsedRequest
    if err := json.Unmarshal(b, &back); err != nil {
        t.Fatal(err)
    }
    if string(back.Body) != string(bin.Body) || back.Method != "PUT" {
        t.Fatalf("round trip = %+v from %s", back, b)
    }
}
