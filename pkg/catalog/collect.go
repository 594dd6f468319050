package catalog

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/collector"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/fuzzer"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/xlat"
)

// Collect resolves every attribute of the catalog, in catalog order, from
// the diffs held by col.
func (c *Catalog) Collect(col *collector.Collector) error {
	for _, a := range c.Attributes {
		if err := c.CollectAttr(col, a); err != nil {
			return err
		}
	}
	return nil
}

// CollectAttr resolves one attribute.
func (c *Catalog) CollectAttr(col *collector.Collector, a Attribute) error {
	if len(a.Depends) > 0 {
		return c.collectPeeled(col, a)
	}
	switch a.Kind {
	case KindBool:
		return col.CollectInv(a.Tile, a.Bel, a.Name, a.Values[0], a.Values[1])
	case KindWideBit:
		return col.CollectBitWide(a.Tile, a.Bel, a.Name, a.Values[1])
	case KindEnum:
		mode, err := a.OcdMode()
		if err != nil {
			return err
		}
		return col.CollectEnumDefaultOcd(a.Tile, a.Bel, a.Name, a.Values, a.Default, mode)
	case KindMux:
		return col.CollectMux(a.Tile, a.Bel, a.Name, a.Values)
	case KindBitvec:
		return col.CollectBitvec(a.Tile, a.Bel, a.Name, a.Name)
	default:
		return fmt.Errorf("catalog: %s: unknown kind %q", a, a.Kind)
	}
}

// collectPeeled retrieves the diffs of a, cancels the contribution of every
// dependency and translates what remains.
func (c *Catalog) collectPeeled(col *collector.Collector, a Attribute) error {
	get := func(val string) (bitdiff.Diff, error) {
		d, err := col.GetDiff(a.Tile, a.Bel, a.Name, val)
		if err != nil {
			return nil, err
		}
		for _, dep := range a.Depends {
			if err := c.cancel(col, &d, a, dep); err != nil {
				return nil, err
			}
		}
		return d, nil
	}

	var (
		item tiledb.Item
		err  error
	)
	switch a.Kind {
	case KindBool, KindWideBit:
		var on bitdiff.Diff
		if on, err = get(a.Values[1]); err != nil {
			return err
		}
		if a.Kind == KindBool {
			item, err = xlat.XlatBool(bitdiff.New(), on)
		} else {
			item, err = xlat.XlatBitWide(on)
		}
	case KindEnum, KindMux:
		var values []xlat.EnumValue
		for _, v := range a.Values {
			if a.Kind == KindEnum && v == a.Default {
				continue
			}
			d, err := get(v)
			if err != nil {
				return err
			}
			values = append(values, xlat.EnumValue{Name: v, Diff: d})
		}
		if a.Kind == KindMux {
			item, err = xlat.XlatMux(values)
		} else {
			mode, merr := a.OcdMode()
			if merr != nil {
				return merr
			}
			item, err = xlat.XlatEnumDefaultOcd(values, a.Default, mode)
		}
	case KindBitvec:
		diffs := make([]bitdiff.Diff, a.Width)
		for i := range diffs {
			if diffs[i], err = get(fuzzer.IndexedVal(a.Name, i)); err != nil {
				return err
			}
		}
		item, err = xlat.XlatBitvec(diffs)
	default:
		return fmt.Errorf("catalog: %s: unknown kind %q", a, a.Kind)
	}
	return col.Resolve(a.Tile, a.Bel, a.Name, item, err)
}

func (c *Catalog) cancel(col *collector.Collector, d *bitdiff.Diff, a Attribute, dep Dependency) error {
	da, ok := c.attribute(a.Tile, dep.Bel, dep.Attr)
	if !ok {
		return fmt.Errorf("catalog: %s: unknown dependency %s.%s", a, dep.Bel, dep.Attr)
	}
	switch da.Kind {
	case KindBool, KindWideBit:
		on := da.Values[1]
		return col.CancelBit(d, a.Tile, dep.Bel, dep.Attr, dep.From == on, dep.To == on)
	case KindMux:
		from, to := dep.From, dep.To
		if from == "" {
			from = xlat.MuxNone
		}
		if to == "" {
			to = xlat.MuxNone
		}
		return col.CancelEnum(d, a.Tile, dep.Bel, dep.Attr, from, to)
	default:
		return col.CancelEnum(d, a.Tile, dep.Bel, dep.Attr, dep.From, dep.To)
	}
}
