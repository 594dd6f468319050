package collector

import (
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/xlat"
)

// Resolve inserts the item a translator produced, or ties the translator's
// error to the attribute.
func (c *Collector) Resolve(tile, bel, attr string, item tiledb.Item, err error) error {
	if err != nil {
		return c.attrErr(tile, bel, attr, err)
	}
	return c.Insert(tile, bel, attr, item)
}

// CollectBit resolves a single-bit attribute from the diff of val.
func (c *Collector) CollectBit(tile, bel, attr, val string) error {
	d, err := c.GetDiff(tile, bel, attr, val)
	if err != nil {
		return err
	}
	item, err := xlat.XlatBit(d)
	return c.Resolve(tile, bel, attr, item, err)
}

// CollectBitWide resolves a boolean attribute that sets several bits.
func (c *Collector) CollectBitWide(tile, bel, attr, val string) error {
	d, err := c.GetDiff(tile, bel, attr, val)
	if err != nil {
		return err
	}
	item, err := xlat.XlatBitWide(d)
	return c.Resolve(tile, bel, attr, item, err)
}

// CollectInv resolves a boolean attribute measured in both states. If only
// one state was measured the other counts as the baseline.
func (c *Collector) CollectInv(tile, bel, attr, off, on string) error {
	offDiff, err := c.optionalDiff(tile, bel, attr, off)
	if err != nil {
		return err
	}
	onDiff, err := c.optionalDiff(tile, bel, attr, on)
	if err != nil {
		return err
	}
	item, err := xlat.XlatBool(offDiff, onDiff)
	return c.Resolve(tile, bel, attr, item, err)
}

func (c *Collector) optionalDiff(tile, bel, attr, val string) (bitdiff.Diff, error) {
	if !c.Has(tile, bel, attr, val) {
		return bitdiff.New(), nil
	}
	return c.GetDiff(tile, bel, attr, val)
}

func (c *Collector) enumValues(tile, bel, attr string, vals []string) ([]xlat.EnumValue, error) {
	out := make([]xlat.EnumValue, 0, len(vals))
	for _, v := range vals {
		d, err := c.GetDiff(tile, bel, attr, v)
		if err != nil {
			return nil, err
		}
		out = append(out, xlat.EnumValue{Name: v, Diff: d})
	}
	return out, nil
}

// CollectEnum resolves an enum attribute from the diffs of vals.
func (c *Collector) CollectEnum(tile, bel, attr string, vals []string) error {
	return c.CollectEnumOcd(tile, bel, attr, vals, xlat.OcdValueOrder())
}

// CollectEnumOcd is CollectEnum with an explicit bit order policy.
func (c *Collector) CollectEnumOcd(tile, bel, attr string, vals []string, mode xlat.OcdMode) error {
	values, err := c.enumValues(tile, bel, attr, vals)
	if err != nil {
		return err
	}
	item, err := xlat.XlatEnumOcd(values, mode)
	return c.Resolve(tile, bel, attr, item, err)
}

// CollectEnumDefault resolves an enum whose baseline value def was not
// measured and therefore has an empty diff.
func (c *Collector) CollectEnumDefault(tile, bel, attr string, vals []string, def string) error {
	return c.CollectEnumDefaultOcd(tile, bel, attr, vals, def, xlat.OcdValueOrder())
}

// CollectEnumDefaultOcd is CollectEnumDefault with an explicit bit order
// policy.
func (c *Collector) CollectEnumDefaultOcd(tile, bel, attr string, vals []string, def string, mode xlat.OcdMode) error {
	var measured []string
	for _, v := range vals {
		if v != def || c.Has(tile, bel, attr, v) {
			measured = append(measured, v)
		}
	}
	values, err := c.enumValues(tile, bel, attr, measured)
	if err != nil {
		return err
	}
	item, err := xlat.XlatEnumDefaultOcd(values, def, mode)
	return c.Resolve(tile, bel, attr, item, err)
}

// CollectBitvec resolves a field from the family val#0..val#n-1, one diff
// per bit, least significant first.
func (c *Collector) CollectBitvec(tile, bel, attr, val string) error {
	ds, err := c.GetDiffs(tile, bel, attr, val)
	if err != nil {
		return err
	}
	item, err := xlat.XlatBitvec(ds)
	return c.Resolve(tile, bel, attr, item, err)
}

// CollectMux resolves a routing mux from the diffs of its inputs.
func (c *Collector) CollectMux(tile, bel, attr string, inputs []string) error {
	values, err := c.enumValues(tile, bel, attr, inputs)
	if err != nil {
		return err
	}
	item, err := xlat.XlatMux(values)
	return c.Resolve(tile, bel, attr, item, err)
}

// CancelEnum peels the contribution of a resolved enum attribute's
// transition from d. It is used when an experiment had to change a
// dependency along with the attribute under test.
func (c *Collector) CancelEnum(d *bitdiff.Diff, tile, bel, attr, from, to string) error {
	item, err := c.Item(tile, bel, attr)
	if err != nil {
		return err
	}
	if err := xlat.ApplyEnumDiff(d, item, from, to); err != nil {
		return c.attrErr(tile, bel, attr, err)
	}
	return nil
}

// CancelBit peels the contribution of a resolved boolean attribute's
// transition from d.
func (c *Collector) CancelBit(d *bitdiff.Diff, tile, bel, attr string, from, to bool) error {
	item, err := c.Item(tile, bel, attr)
	if err != nil {
		return err
	}
	if err := xlat.ApplyBitDiff(d, item, from, to); err != nil {
		return c.attrErr(tile, bel, attr, err)
	}
	return nil
}
