package game

const (
	entityNumNone  = 1023
	entityNumWorld = 1022
)

// linkedEntity is the subset of an entity's shared state the adapter keeps
// around once linked, so it can run clipping without re-reading VM memory
// for every candidate on every trace.
type linkedEntity struct {
	addr           uint32
	number         int32
	currentOrigin  [3]float32
	currentAngles  [3]float32
	mins, maxs     [3]float32
	absMin, absMax [3]float32
	bmodel         int32
	contents       int32
	ownerNum       int32
	modelIndex     int32
}

func vec3Add(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func boundsOverlap(aMin, aMax, bMin, bMax [3]float32) bool {
	for i := 0; i < 3; i++ {
		if aMin[i] > bMax[i] || aMax[i] < bMin[i] {
			return false
		}
	}
	return true
}

// entityStateSize is sharedEntity_t's s field width: the byte offset at
// which the embedded EntityShared (r) begins within one g_entities slot.
var entityStateSize = uint32(mustBinarySize(EntityState{}))

// LinkEntity reads the entity at addr (the base of one sharedEntity_t slot)
// out of VM memory, computes its absolute bounds, and adds it to the linked
// set (replacing any prior entry for the same address).
func (a *Adapter) LinkEntity(addr uint32) {
	rAddr := addr + entityStateSize

	var s EntityState
	readStruct(a.Memory(), addr, &s)

	var ent EntityShared
	readStruct(a.Memory(), rAddr, &ent)

	le := linkedEntity{
		addr:          addr,
		number:        s.Number,
		currentOrigin: ent.CurrentOrigin,
		currentAngles: ent.CurrentAngles,
		mins:          ent.Mins,
		maxs:          ent.Maxs,
		bmodel:        ent.BModel,
		contents:      ent.Contents,
		ownerNum:      ent.OwnerNum,
		modelIndex:    s.ModelIndex,
	}

	if le.bmodel != 0 && hasNonzeroAngles(le.currentAngles) {
		radius := boundingRadius(le.mins, le.maxs)
		le.absMin = [3]float32{
			le.currentOrigin[0] - radius - 1,
			le.currentOrigin[1] - radius - 1,
			le.currentOrigin[2] - radius - 1,
		}
		le.absMax = [3]float32{
			le.currentOrigin[0] + radius + 1,
			le.currentOrigin[1] + radius + 1,
			le.currentOrigin[2] + radius + 1,
		}
	} else {
		lo := vec3Add(le.currentOrigin, le.mins)
		hi := vec3Add(le.currentOrigin, le.maxs)
		le.absMin = [3]float32{lo[0] - 1, lo[1] - 1, lo[2] - 1}
		le.absMax = [3]float32{hi[0] + 1, hi[1] + 1, hi[2] + 1}
	}

	ent.AbsMin, ent.AbsMax = le.absMin, le.absMax
	writeStruct(a.Memory(), rAddr, &ent)

	if a.linked == nil {
		a.linked = make(map[uint32]linkedEntity)
	}
	a.linked[addr] = le
}

// UnlinkEntity removes addr from the linked set.
func (a *Adapter) UnlinkEntity(addr uint32) {
	delete(a.linked, addr)
}

func hasNonzeroAngles(a [3]float32) bool {
	return a[0] != 0 || a[1] != 0 || a[2] != 0
}

func boundingRadius(mins, maxs [3]float32) float32 {
	var max float32
	for i := 0; i < 3; i++ {
		if v := absf(mins[i]); v > max {
			max = v
		}
		if v := absf(maxs[i]); v > max {
			max = v
		}
	}
	return max
}

func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

// EntitiesInBox returns the VM addresses of linked entities whose absolute
// bounds overlap [mins, maxs].
func (a *Adapter) EntitiesInBox(mins, maxs [3]float32) []uint32 {
	var out []uint32
	for addr, le := range a.linked {
		if boundsOverlap(le.absMin, le.absMax, mins, maxs) {
			out = append(out, addr)
		}
	}
	return out
}

// trace runs the full G_TRACE algorithm: a world trace, then entity
// clipping against the linked set, merging in whichever hit is nearest.
func (a *Adapter) trace(start, mins, maxs, end [3]float32, passEntity, contentMask int32) Trace {
	result := a.world.BoxTrace(start, mins, maxs, end, passEntity, contentMask)
	if result.Fraction == 1.0 {
		result.EntityNum = entityNumNone
	} else {
		result.EntityNum = entityNumWorld
	}
	if result.AllSolid != 0 || result.Fraction == 1.0 {
		return result
	}

	boxMin, boxMax := sweptBounds(start, end, mins, maxs)

	var passOwner int32 = -1
	if passEntity >= 0 {
		if le, ok := a.linkedByNumber(passEntity); ok {
			passOwner = le.ownerNum
		}
	}

	for _, le := range a.linked {
		if le.number == passEntity {
			continue
		}
		if passEntity >= 0 && le.ownerNum == passEntity {
			continue // owned by the pass-entity
		}
		if passOwner >= 0 && le.ownerNum == passOwner {
			continue // shares the pass-entity's owner
		}
		if le.contents&contentMask == 0 {
			continue
		}
		if !boundsOverlap(le.absMin, le.absMax, boxMin, boxMax) {
			continue
		}

		model := int32(0)
		if le.bmodel != 0 {
			model = le.modelIndex
		}
		angles := [3]float32{}
		if le.bmodel != 0 {
			angles = le.currentAngles
		}

		candidate := a.world.TransformedBoxTrace(start, mins, maxs, end, model, contentMask, le.currentOrigin, angles)

		if candidate.StartSolid != 0 {
			result.StartSolid = 1
		}
		if candidate.AllSolid != 0 {
			result.AllSolid = 1
		}
		if candidate.Fraction < result.Fraction {
			result.Fraction = candidate.Fraction
			result.EndPos = candidate.EndPos
			result.Plane = candidate.Plane
			result.SurfaceFlags = candidate.SurfaceFlags
			result.Contents = candidate.Contents
			result.EntityNum = le.number
		}

		if result.AllSolid != 0 {
			break
		}
	}

	return result
}

func (a *Adapter) linkedByNumber(number int32) (linkedEntity, bool) {
	for _, le := range a.linked {
		if le.number == number {
			return le, true
		}
	}
	return linkedEntity{}, false
}

func sweptBounds(start, end, mins, maxs [3]float32) (lo, hi [3]float32) {
	for i := 0; i < 3; i++ {
		a := start[i]
		b := end[i]
		if a > b {
			a, b = b, a
		}
		lo[i] = a + mins[i] - 1
		hi[i] = b + maxs[i] + 1
	}
	return lo, hi
}

// pointContents forwards a contents query to the world tracer. Entity
// contents are not considered; only the static world is queried.
func (a *Adapter) pointContents(p [3]float32) int32 {
	return a.world.PointContents(p)
}

// entityContact reports whether a zero-length box trace at the origin,
// transformed into entIdx's space, starts solid — the exact-collision check
// the host syscall bridge exposes for brush triggers.
func (a *Adapter) entityContact(mins, maxs [3]float32, entIdx uint32) bool {
	addr := a.gEntities + entIdx*a.sizeofEntity
	le, ok := a.linked[addr]
	if !ok {
		return false
	}

	model := int32(0)
	angles := [3]float32{}
	if le.bmodel != 0 {
		model = le.modelIndex
		angles = le.currentAngles
	}

	var zero [3]float32
	trace := a.world.TransformedBoxTrace(zero, mins, maxs, zero, model, -1, le.currentOrigin, angles)
	return trace.StartSolid != 0
}
