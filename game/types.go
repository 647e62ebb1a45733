package game

// Host-facing structs mirror the QVM's compiled memory layout byte-exactly:
// field order and width must match, with explicit padding fields
// standing in for what a C compiler would insert. They are (de)serialized
// with encoding/binary, which packs struct fields in declaration order with
// no implicit alignment — exactly what repr(C) demands here.

// CPlane is a collision plane: normal + distance + type/sign classification.
type CPlane struct {
	Normal   [3]float32
	Dist     float32
	Type     uint8
	SignBits uint8
	Pad      [2]uint8
}

// Trace is the result of a swept box-vs-world collision query.
type Trace struct {
	AllSolid     int32
	StartSolid   int32
	Fraction     float32
	EndPos       [3]float32
	Plane        CPlane
	SurfaceFlags int32
	Contents     int32
	EntityNum    int32
}

// Trajectory describes parametric entity motion (interpolated client-side);
// the adapter never evaluates it, only stores/forwards it.
type Trajectory struct {
	Type     int32
	Time     int32
	Duration int32
	Base     [3]float32
	Delta    [3]float32
}

// EntityState is the subset of entity data replicated to clients.
type EntityState struct {
	Number            int32
	EType             int32
	EFlags            int32
	Pos               Trajectory
	Apos              Trajectory
	Time              int32
	Time2             int32
	Origin            [3]float32
	Origin2           [3]float32
	Angles            [3]float32
	Angles2           [3]float32
	OtherEntityNum    int32
	OtherEntityNum2   int32
	GroundEntityNum   int32
	ConstantLight     int32
	LoopSound         int32
	ModelIndex        int32
	ModelIndex2       int32
	ClientNum         int32
	Frame             int32
	Solid             int32
	Event             int32
	EventParm         int32
	Powerups          int32
	Weapon            int32
	LegsAnim          int32
	TorsoAnim         int32
	Generic1          int32
}

// EntityShared is the server-only half of an entity: linkage and bounds
// bookkeeping the adapter needs for G_TRACE and G_ENTITIES_IN_BOX.
type EntityShared struct {
	S             EntityState
	Linked        int32
	LinkCount     int32
	SVFlags       int32
	SingleClient  int32
	BModel        int32
	Mins          [3]float32
	Maxs          [3]float32
	Contents      int32
	AbsMin        [3]float32
	AbsMax        [3]float32
	CurrentOrigin [3]float32
	CurrentAngles [3]float32
	OwnerNum      int32
}

// SharedEntity is one g_entities[] slot as the QVM lays it out.
type SharedEntity struct {
	S EntityState
	R EntityShared
}

// PlayerState is the authoritative per-client simulation state.
type PlayerState struct {
	CommandTime       int32
	PMType            int32
	BobCycle          int32
	PMFlags           int32
	PMTime            int32
	Origin            [3]float32
	Velocity          [3]float32
	WeaponTime        int32
	Gravity           int32
	Speed             int32
	DeltaAngles       [3]int32
	GroundEntityNum   int32
	LegsTimer         int32
	LegsAnim          int32
	TorsoTimer        int32
	TorsoAnim         int32
	MovementDir       int32
	GrapplePoint      [3]float32
	EFlags            int32
	EventSequence     int32
	Events            [2]int32
	EventParms        [2]int32
	ExternalEvent     int32
	ExternalEventParm int32
	ExternalEventTime int32
	ClientNum         int32
	Weapon            int32
	WeaponState       int32
	ViewAngles        [3]float32
	ViewHeight        int32
	DamageEvent       int32
	DamageYaw         int32
	DamagePitch       int32
	DamageCount       int32
	Stats             [16]int32
	Persistant        [16]int32
	Powerups          [16]int32
	Ammo              [16]int32
	Generic1          int32
	LoopSound         int32
	JumppadEnt        int32
	Ping              int32
	PmoveFramecount   int32
	JumppadFrame      int32
	EntityEventSeq    int32
}

// UserCmd is one client input tick as submitted to the game.
type UserCmd struct {
	ServerTime  int32
	Angles      [3]int32
	Buttons     int32
	Weapon      uint8
	ForwardMove int8
	RightMove   int8
	UpMove      int8
}

// VmCvar mirrors the config-variable struct the QVM passes to
// G_CVAR_REGISTER/G_CVAR_UPDATE; String is a fixed 256-byte NUL-padded buffer.
type VmCvar struct {
	Handle             int32
	ModificationCount  int32
	Value              float32
	Integer            int32
	String             [256]uint8
}
