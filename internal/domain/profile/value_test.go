package profile_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/okian/baseline/internal/domain/profile"
	. "github.com/smartystreets/goconvey/convey"
)

func TestValueOf(t *testing.T) {
	Convey("Given JSON compatible Go values", t, func() {
		Convey("Then scalars keep their kind", func() {
			v, err := profile.ValueOf(nil)
			So(err, ShouldBeNil)
			So(v.IsNull(), ShouldBeTrue)

			v, _ = profile.ValueOf(true)
			b, ok := v.AsBool()
			So(ok, ShouldBeTrue)
			So(b, ShouldBeTrue)

			v, _ = profile.ValueOf(uint8(42))
			n, ok := v.AsNumber()
			So(ok, ShouldBeTrue)
			So(n, ShouldEqual, 42)

			v, _ = profile.ValueOf("female")
			s, ok := v.AsString()
			So(ok, ShouldBeTrue)
			So(s, ShouldEqual, "female")
			_, ok = v.AsNumber()
			So(ok, ShouldBeFalse)
		})

		Convey("Then nested structures convert recursively", func() {
			v, err := profile.ValueOf(map[string]any{
				"languages": []string{"en", "fr"},
				"height":    1.8,
			})
			So(err, ShouldBeNil)
			So(v.Kind(), ShouldEqual, profile.KindObject)
			langs, ok := v.Field("languages")
			So(ok, ShouldBeTrue)
			items, ok := langs.AsArray()
			So(ok, ShouldBeTrue)
			So(len(items), ShouldEqual, 2)
		})
	})

	Convey("Given values that are not JSON compatible", t, func() {
		for name, in := range map[string]any{
			"nan":      math.NaN(),
			"infinity": math.Inf(1),
			"channel":  make(chan int),
			"func":     func() {},
			"struct":   struct{ A int }{1},
			"int keys": map[int]string{1: "a"},
			"nested":   []any{1, math.NaN()},
		} {
			Convey("Then "+name+" is rejected", func() {
				_, err := profile.ValueOf(in)
				So(errors.Is(err, profile.ErrInvalidValue), ShouldBeTrue)
			})
		}
	})
}

func TestValueJSON(t *testing.T) {
	Convey("Given a JSON document", t, func() {
		var v profile.Value
		err := json.Unmarshal([]byte(`{"b":[1,"two",null,true],"a":{"x":1.5}}`), &v)
		So(err, ShouldBeNil)

		Convey("Then it marshals back with sorted keys", func() {
			out, err := json.Marshal(v)
			So(err, ShouldBeNil)
			So(string(out), ShouldEqual, `{"a":{"x":1.5},"b":[1,"two",null,true]}`)
		})

		Convey("Then equality is structural", func() {
			var other profile.Value
			So(json.Unmarshal([]byte(`{"a":{"x":1.5},"b":[1,"two",null,true]}`), &other), ShouldBeNil)
			So(v.Equal(other), ShouldBeTrue)
			So(v.Equal(profile.String("a")), ShouldBeFalse)
		})
	})

	Convey("Given malformed JSON", t, func() {
		var v profile.Value
		err := json.Unmarshal([]byte(`{"a":`), &v)
		So(err, ShouldNotBeNil)
	})
}
